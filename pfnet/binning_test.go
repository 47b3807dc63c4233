package pfnet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/nn"
)

func newTestBinner(t *testing.T, distDim, maxBins, binSize int) (*nn.ParamSet, *MessageBuildingLSH) {
	t.Helper()
	ps := nn.NewParamSet()
	init := nn.NewRandomNormal(0, 0.02, 1)
	kernel := &GaussianKernel{DistMult: 0.1, ClipValueLow: 0}
	return ps, NewMessageBuildingLSH(ps, "cg_0", distDim, maxBins, binSize, kernel, init)
}

func TestBinningIsPermutation(t *testing.T) {
	const batch, n, distDim, binSize = 2, 64, 8, 16
	ps, mb := newTestBinner(t, distDim, 4, binSize)
	require.NotNil(t, ps.Get("cg_0/lsh_projections"))

	rng := rand.New(rand.NewSource(3))
	xMsg := ad.Randn(rng, 1, batch, n, distDim)
	xNode := ad.Randn(rng, 1, batch, n, 5)
	msk := ad.New(batch, n, 1)
	for i := range msk.Data {
		msk.Data[i] = 1
	}

	out := mb.Forward(xMsg, xNode, msk, false, rng)
	require.Equal(t, []int{batch, 4, binSize}, out.Split.Shape)

	// Every element lands in exactly one bin slot.
	for b := 0; b < batch; b++ {
		seen := map[int]bool{}
		for _, idx := range out.Split.Data[b*n : (b+1)*n] {
			assert.False(t, seen[idx])
			seen[idx] = true
		}
		assert.Len(t, seen, n)
	}
}

func TestBinningGroupsNearbyPoints(t *testing.T) {
	// Two well-separated clusters along the projection axes end up in
	// different bins from each other.
	const n, binSize = 32, 16
	ps, mb := newTestBinner(t, 2, 2, binSize)
	_ = ps

	xMsg := ad.New(1, n, 2)
	for i := 0; i < n; i++ {
		v := float32(10)
		if i%2 == 0 {
			v = -10
		}
		xMsg.Data[i*2] = v
		xMsg.Data[i*2+1] = v
	}
	msk := ad.New(1, n, 1)
	for i := range msk.Data {
		msk.Data[i] = 1
	}

	rng := rand.New(rand.NewSource(4))
	out := mb.Forward(xMsg, xMsg, msk, false, rng)

	// Each bin holds only one cluster: all members share the same sign.
	for bin := 0; bin < 2; bin++ {
		var sign float32
		for s := 0; s < binSize; s++ {
			v := xMsg.Data[out.Split.Data[bin*binSize+s]*2]
			if s == 0 {
				sign = v
			}
			assert.Equal(t, sign, v, "bin %d slot %d", bin, s)
		}
	}
}

func TestBinningMasksKernelRowsAndCols(t *testing.T) {
	const batch, n, distDim, binSize = 1, 32, 4, 8
	_, mb := newTestBinner(t, distDim, 4, binSize)

	rng := rand.New(rand.NewSource(5))
	xMsg := ad.Randn(rng, 1, batch, n, distDim)
	msk := ad.New(batch, n, 1)
	for i := 0; i < 20; i++ {
		msk.Data[i] = 1 // last 12 padded
	}

	out := mb.Forward(xMsg, xMsg, msk, false, rng)

	// Wherever a slot is padded, its whole affinity row and column is zero.
	bs := binSize
	for bin := 0; bin < 4; bin++ {
		for i := 0; i < bs; i++ {
			if out.Msk.Data[bin*bs+i] != 0 {
				continue
			}
			for j := 0; j < bs; j++ {
				assert.Zero(t, out.DM.Data[((bin*bs+i)*bs + j)], "row")
				assert.Zero(t, out.DM.Data[((bin*bs+j)*bs + i)], "col")
			}
		}
	}
}

func TestUnbinInvertsForward(t *testing.T) {
	const batch, n, distDim, binSize = 2, 64, 8, 16
	_, mb := newTestBinner(t, distDim, 4, binSize)

	rng := rand.New(rand.NewSource(6))
	xMsg := ad.Randn(rng, 1, batch, n, distDim)
	xNode := ad.Randn(rng, 1, batch, n, 3)
	msk := ad.New(batch, n, 1)
	for i := range msk.Data {
		msk.Data[i] = 1
	}

	out := mb.Forward(xMsg, xNode, msk, false, rng)
	restored := Unbin(out.XNode, out.Split)

	require.Equal(t, xNode.Shape, restored.Shape)
	for i := range xNode.Data {
		assert.Equal(t, xNode.Data[i], restored.Data[i])
	}
}

func TestForwardRejectsIndivisible(t *testing.T) {
	_, mb := newTestBinner(t, 4, 4, 10)
	xMsg := ad.New(1, 33, 4)
	msk := ad.New(1, 33, 1)
	require.Panics(t, func() { mb.Forward(xMsg, xMsg, msk, false, nil) })
}
