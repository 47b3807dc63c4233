package pfnet

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/config"
	"github.com/openfluke/mlpf/nn"
)

// MessageLayer propagates information between the elements of each bin using
// the kernel affinities. x is [batch, bins, binSize, dim], adj is
// [batch, bins, binSize, binSize, k] and msk is [batch, bins, binSize, 1].
type MessageLayer interface {
	Forward(x, adj, msk *ad.Tensor, training bool, rng *rand.Rand) *ad.Tensor
	OutputDim() int
}

// MessageLayerByConf resolves the message-passing variant. GHConv contracts
// the affinity tensor as a plain adjacency matrix, so it only accepts
// single-channel kernels; pairing it with a wider trainable kernel is a
// construction error rather than a silent reshape.
func MessageLayerByConf(ps *nn.ParamSet, name string, inputDim, kernelDim int, cfg config.NodeMessage, init *nn.RandomNormal) (MessageLayer, error) {
	switch cfg.Type {
	case "ghconv":
		if kernelDim != 1 {
			return nil, fmt.Errorf("message layer %s: ghconv needs a single-channel kernel, got %d channels", name, kernelDim)
		}
		return NewGHConv(ps, name, inputDim, cfg, init)
	case "learnable":
		return NewLearnedAggregation(ps, name, inputDim, kernelDim, cfg, init)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageLayer, cfg.Type)
	}
}

// GHConv is a gated graph convolution: a homophilous term that mixes
// neighbor features through the adjacency matrix and a heterophilous term
// from the element itself, blended by a learned sigmoid gate. With degree
// normalization the adjacency rows are scaled by 1/sqrt(degree), which keeps
// activations bounded regardless of how many affinities the kernel turns on.
type GHConv struct {
	wT, bT, wH, theta *ad.Tensor
	act               nn.Activation
	outputDim         int
	normalizeDegrees  bool
}

func NewGHConv(ps *nn.ParamSet, name string, inputDim int, cfg config.NodeMessage, init *nn.RandomNormal) (*GHConv, error) {
	act, err := nn.ActivationByName(cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("message layer %s: %w", name, err)
	}
	return &GHConv{
		wT:               ps.Register(name+"/w_t", init.Tensor(inputDim, cfg.OutputDim)),
		bT:               ps.Register(name+"/b_t", init.Tensor(cfg.OutputDim)),
		wH:               ps.Register(name+"/w_h", init.Tensor(inputDim, cfg.OutputDim)),
		theta:            ps.Register(name+"/theta", init.Tensor(inputDim, cfg.OutputDim)),
		act:              act,
		outputDim:        cfg.OutputDim,
		normalizeDegrees: cfg.NormalizeDegrees,
	}, nil
}

func (g *GHConv) Forward(x, adj, msk *ad.Tensor, _ bool, _ *rand.Rand) *ad.Tensor {
	batch, bins, binSize := adj.Shape[0], adj.Shape[1], adj.Shape[2]
	a := ad.Reshape(adj, batch, bins, binSize, binSize)

	xm := ad.MulB(x, msk)
	fHom := ad.MulB(ad.MatMul(xm, g.theta), msk)
	if g.normalizeDegrees {
		// Degrees are clipped before the inverse square root so a single
		// pathological bin cannot wash out every other gradient.
		inDeg := ad.Clip(ad.ReduceSum(ad.Abs(a), -1), 0, 1000)
		norm := ad.MulB(ad.Reshape(ad.InvSqrtEps(inDeg, 1e-6), batch, bins, binSize, 1), msk)
		fHom = ad.MulB(ad.BatchedMatMul(a, ad.MulB(fHom, norm)), norm)
	} else {
		fHom = ad.BatchedMatMul(a, fHom)
	}

	fHet := ad.MatMul(xm, g.wH)
	gate := ad.Sigmoid(ad.AddB(ad.MatMul(x, g.wT), g.bT))

	out := ad.Add(ad.Mul(gate, fHom), ad.Mul(ad.AddScalar(ad.Neg(gate), 1), fHet))
	return ad.MulB(g.act(out), msk)
}

func (g *GHConv) OutputDim() int { return g.outputDim }

// LearnedAggregation reduces the multi-channel affinity tensor itself: the
// mean and max over the chosen direction become per-element message
// summaries, which are concatenated with the element features and pushed
// through a feed-forward network. "dst" reduces over the receiving axis,
// "src" over the sending one.
type LearnedAggregation struct {
	ffn       *nn.FFN
	act       nn.Activation
	axis      int
	outputDim int
}

func NewLearnedAggregation(ps *nn.ParamSet, name string, inputDim, kernelDim int, cfg config.NodeMessage, init *nn.RandomNormal) (*LearnedAggregation, error) {
	var axis int
	switch cfg.AggregationDirection {
	case "dst":
		axis = -2
	case "src":
		axis = -3
	default:
		return nil, fmt.Errorf("message layer %s: unknown aggregation_direction %q", name, cfg.AggregationDirection)
	}
	act, err := nn.ActivationByName(cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("message layer %s: %w", name, err)
	}
	ffn, err := nn.NewFFN(ps, name+"/ffn", inputDim+2*kernelDim, nn.FFNConfig{
		OutputDim:  cfg.OutputDim,
		HiddenDim:  cfg.HiddenDim,
		NumLayers:  cfg.NumLayers,
		Activation: cfg.Activation,
	}, init)
	if err != nil {
		return nil, err
	}
	return &LearnedAggregation{ffn: ffn, act: act, axis: axis, outputDim: cfg.OutputDim}, nil
}

func (l *LearnedAggregation) Forward(x, adj, msk *ad.Tensor, training bool, rng *rand.Rand) *ad.Tensor {
	avg := ad.ReduceMean(adj, l.axis)
	max := ad.ReduceMax(adj, l.axis)
	x2 := ad.MulB(ad.Concat(x, avg, max), msk)
	return l.act(l.ffn.Forward(x2, training, rng))
}

func (l *LearnedAggregation) OutputDim() int { return l.outputDim }
