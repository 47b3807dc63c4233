package nn

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/mlpf/ad"
)

// FFNConfig describes a point-wise feed-forward stack: numLayers hidden
// dense layers of width HiddenDim (optionally halving each layer) followed
// by a final linear projection to OutputDim.
type FFNConfig struct {
	OutputDim   int
	HiddenDim   int
	NumLayers   int
	Activation  string
	DimDecrease bool
	Dropout     float64
}

// FFN is the point-wise feed-forward network used throughout the model: for
// distance embeddings, trainable kernels, message aggregation and every
// output decoding head. It applies identically to each element slot.
type FFN struct {
	hidden  []*Dense
	out     *Dense
	dropout float64
}

// NewFFN builds the stack and registers its weights under
// name+"/dense_<i>". An unknown activation name is a construction error.
func NewFFN(ps *ParamSet, name string, inputDim int, cfg FFNConfig, init *RandomNormal) (*FFN, error) {
	act, err := ActivationByName(cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("ffn %s: %w", name, err)
	}
	identity, _ := ActivationByName("linear")

	f := &FFN{dropout: cfg.Dropout}
	in := inputDim
	dff := cfg.HiddenDim
	i := 0
	for ; i < cfg.NumLayers; i++ {
		f.hidden = append(f.hidden, NewDense(ps, fmt.Sprintf("%s/dense_%d", name, i), in, dff, act, init))
		in = dff
		if cfg.DimDecrease {
			dff /= 2
			if dff < 1 {
				dff = 1
			}
		}
	}
	f.out = NewDense(ps, fmt.Sprintf("%s/dense_%d", name, i), in, cfg.OutputDim, identity, init)
	return f, nil
}

// Forward applies the stack to x of shape [..., inputDim]. Dropout is active
// only while training.
func (f *FFN) Forward(x *ad.Tensor, training bool, rng *rand.Rand) *ad.Tensor {
	for _, d := range f.hidden {
		x = d.Forward(x)
		if f.dropout > 0 {
			x = ad.Dropout(x, f.dropout, rng, training)
		}
	}
	return f.out.Forward(x)
}
