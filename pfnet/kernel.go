package pfnet

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/config"
	"github.com/openfluke/mlpf/nn"
)

// Kernel computes the node-pair affinity tensor within each bin. Input is
// the binned distance embedding [batch, bins, binSize, distDim]; output is
// [batch, bins, binSize, binSize, outputDim].
type Kernel interface {
	Forward(xMsgBinned *ad.Tensor, training bool, rng *rand.Rand) *ad.Tensor
	// OutputDim is the trailing dimension of the affinity tensor.
	OutputDim() int
}

// KernelByConf resolves the kernel variant once at construction. Unknown
// types fail fast with the offending name.
func KernelByConf(ps *nn.ParamSet, name string, distanceDim int, cfg config.Kernel, init *nn.RandomNormal) (Kernel, error) {
	switch cfg.Type {
	case "gaussian":
		return &GaussianKernel{
			DistMult:     float32(cfg.DistMult),
			ClipValueLow: float32(cfg.ClipValueLow),
		}, nil
	case "trainable":
		act, err := nn.ActivationByName(cfg.Activation)
		if err != nil {
			return nil, fmt.Errorf("kernel %s: %w", name, err)
		}
		ffn, err := nn.NewFFN(ps, name+"/ffn", 2*distanceDim, nn.FFNConfig{
			OutputDim:  cfg.OutputDim,
			HiddenDim:  cfg.HiddenDim,
			NumLayers:  cfg.NumLayers,
			Activation: cfg.Activation,
		}, init)
		if err != nil {
			return nil, err
		}
		return &TrainableKernel{ffn: ffn, act: act, outputDim: cfg.OutputDim}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, cfg.Type)
	}
}

// GaussianKernel turns pairwise Euclidean distance into an affinity
// exp(-distMult*d), clipped to [ClipValueLow, 1]. The squared distance is
// floored before the square root so floating-point cancellation cannot go
// negative, and the low clip keeps gradient signal alive for far-apart
// pairs.
type GaussianKernel struct {
	DistMult     float32
	ClipValueLow float32
}

func (k *GaussianKernel) Forward(x *ad.Tensor, _ bool, _ *rand.Rand) *ad.Tensor {
	dm := ad.PairwiseDist(x, 1e-6)
	dm = ad.Exp(ad.MulScalar(dm, -k.DistMult))
	dm = ad.Clip(dm, k.ClipValueLow, 1)
	return ad.Reshape(dm, append(dm.Shape, 1)...)
}

func (k *GaussianKernel) OutputDim() int { return 1 }

// TrainableKernel scores every in-bin (src, dst) pair with a small
// feed-forward network over the concatenated pair features. The cost is
// quadratic in the bin size, which the LSH binning keeps small and fixed.
type TrainableKernel struct {
	ffn       *nn.FFN
	act       nn.Activation
	outputDim int
}

func (k *TrainableKernel) Forward(x *ad.Tensor, training bool, rng *rand.Rand) *ad.Tensor {
	pairs := ad.PairwiseConcat(x)
	return k.act(k.ffn.Forward(pairs, training, rng))
}

func (k *TrainableKernel) OutputDim() int { return k.outputDim }
