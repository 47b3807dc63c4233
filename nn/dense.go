package nn

import (
	"math"

	"github.com/openfluke/mlpf/ad"
)

// Dense is a fully connected layer applied point-wise over every leading
// dimension: y = act(x @ W + b).
type Dense struct {
	W, B *ad.Tensor
	act  Activation
}

// NewDense creates a dense layer and registers its weights under name+"/w"
// and name+"/b". Weights use He-style fan-in scaling, biases start at zero.
func NewDense(ps *ParamSet, name string, in, out int, act Activation, init *RandomNormal) *Dense {
	std := math.Sqrt(2.0 / float64(in))
	return &Dense{
		W:   ps.Register(name+"/w", init.Scaled(0, std).Tensor(in, out)),
		B:   ps.Register(name+"/b", ad.New(out)),
		act: act,
	}
}

// Forward applies the layer to x of shape [..., in].
func (d *Dense) Forward(x *ad.Tensor) *ad.Tensor {
	return d.act(ad.AddB(ad.MatMul(x, d.W), d.B))
}

// LayerNorm normalizes the last axis with a learned affine transform.
type LayerNorm struct {
	Gamma, Beta *ad.Tensor
	eps         float32
}

// NewLayerNorm creates a layer norm over dim features, gamma initialized to
// ones and beta to zeros, registered under name+"/gamma" and name+"/beta".
func NewLayerNorm(ps *ParamSet, name string, dim int, eps float32) *LayerNorm {
	gamma := ad.New(dim)
	for i := range gamma.Data {
		gamma.Data[i] = 1
	}
	return &LayerNorm{
		Gamma: ps.Register(name+"/gamma", gamma),
		Beta:  ps.Register(name+"/beta", ad.New(dim)),
		eps:   eps,
	}
}

// Forward normalizes x over its last axis.
func (l *LayerNorm) Forward(x *ad.Tensor) *ad.Tensor {
	return ad.LayerNorm(x, l.Gamma, l.Beta, l.eps)
}
