package pfnet

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/nn"
)

// MessageBuildingLSH splits the padded element set into fixed-size bins with
// locality-sensitive hashing over the distance embedding, then evaluates the
// node-pair kernel inside each bin. Every element lands in exactly one bin
// and padded elements are herded toward the trailing bins, so the quadratic
// kernel cost is binSize^2 per bin instead of N^2 over the event.
type MessageBuildingLSH struct {
	binSize    int
	maxNumBins int
	codebook   *ad.Tensor
	kernel     Kernel
}

// NewMessageBuildingLSH registers the fixed random-rotation codebook under
// name+"/lsh_projections". The codebook is drawn once at construction and
// never trained, so bin assignments stay reproducible for a given seed.
func NewMessageBuildingLSH(ps *nn.ParamSet, name string, distanceDim int, maxNumBins, binSize int, kernel Kernel, init *nn.RandomNormal) *MessageBuildingLSH {
	return &MessageBuildingLSH{
		binSize:    binSize,
		maxNumBins: maxNumBins,
		codebook:   ps.RegisterFixed(name+"/lsh_projections", init.Scaled(0, 0.05).Tensor(distanceDim, maxNumBins/2)),
		kernel:     kernel,
	}
}

// Binned carries everything the message layers need downstream: the node and
// distance features regrouped per bin, the per-bin padding mask, the kernel
// affinities, and the permutation needed to undo the binning.
type Binned struct {
	XNode *ad.Tensor    // [batch, bins, binSize, nodeDim]
	XMsg  *ad.Tensor    // [batch, bins, binSize, distDim]
	Msk   *ad.Tensor    // [batch, bins, binSize, 1]
	DM    *ad.Tensor    // [batch, bins, binSize, binSize, k]
	Split *ad.IntTensor // [batch, bins, binSize], original positions per slot
}

// Forward bins the event and evaluates the kernel. xMsg is the distance
// embedding [batch, N, distDim], xNode the per-element features
// [batch, N, nodeDim] and msk the 0/1 padding mask [batch, N, 1]. N must be a
// multiple of the bin size.
func (m *MessageBuildingLSH) Forward(xMsg, xNode, msk *ad.Tensor, training bool, rng *rand.Rand) Binned {
	batch, n := xMsg.Shape[0], xMsg.Shape[1]
	if n%m.binSize != 0 {
		panic(fmt.Sprintf("pfnet: %d elements do not divide into bins of %d", n, m.binSize))
	}
	nBins := n / m.binSize

	split := m.binIndices(xMsg, msk, batch, n, nBins)

	out := Binned{
		XNode: ad.Gather(xNode, split),
		XMsg:  ad.Gather(xMsg, split),
		Msk:   ad.Gather(msk, split),
		Split: split,
	}

	dm := m.kernel.Forward(out.XMsg, training, rng)
	// Zero both the rows and the columns of padded elements so they neither
	// send nor receive messages.
	dm = ad.MulB(dm, ad.Reshape(out.Msk, batch, nBins, m.binSize, 1, 1))
	dm = ad.MulB(dm, ad.Reshape(out.Msk, batch, nBins, 1, m.binSize, 1))
	out.DM = dm
	return out
}

// binIndices assigns each element to a bin by projecting its distance
// embedding through the codebook and taking the argmax over the projections
// and their negations. Padded elements get their key shifted by nBins-1 so
// the stable sort stacks them behind every real element with the same
// projection.
func (m *MessageBuildingLSH) binIndices(xMsg, msk *ad.Tensor, batch, n, nBins int) *ad.IntTensor {
	keys := ad.NewIntTensor(batch, n)
	if nBins > 1 {
		proj := ad.SliceLast(m.codebook, 0, nBins/2)
		mul := ad.MatMul(ad.Detach(xMsg), proj)
		cmul := ad.Concat(mul, ad.Neg(mul))
		am := ad.Argmax(cmul)
		copy(keys.Data, am.Data)
	}
	for i, v := range msk.Data {
		if v == 0 {
			keys.Data[i] += nBins - 1
		}
	}

	perm := ad.ArgsortRows(keys)
	split := ad.NewIntTensor(batch, nBins, m.binSize)
	copy(split.Data, perm.Data)
	return split
}

// Unbin is the inverse of the binning permutation: it takes per-bin features
// [batch, bins, binSize, f] and scatters them back to event order
// [batch, N, f]. Forward and Unbin compose to the identity on every slot, so
// gradients flow through unchanged.
func Unbin(x *ad.Tensor, split *ad.IntTensor) *ad.Tensor {
	batch, bins, binSize := split.Shape[0], split.Shape[1], split.Shape[2]
	f := x.Dim(-1)
	flat := ad.Reshape(x, batch, bins*binSize, f)

	idx := ad.NewIntTensor(batch, bins*binSize)
	copy(idx.Data, split.Data)
	return ad.ScatterRows(flat, idx, bins*binSize)
}
