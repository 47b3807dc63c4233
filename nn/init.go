package nn

import (
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/openfluke/mlpf/ad"
)

// RandomNormal draws weight entries from N(mean, std). One instance per model
// keeps initialization reproducible from a single seed.
type RandomNormal struct {
	dist distuv.Normal
}

// NewRandomNormal returns a seeded normal initializer.
func NewRandomNormal(mean, std float64, seed uint64) *RandomNormal {
	return &RandomNormal{dist: distuv.Normal{Mu: mean, Sigma: std, Src: xrand.NewSource(seed)}}
}

// Tensor returns a freshly sampled tensor of the given shape.
func (r *RandomNormal) Tensor(shape ...int) *ad.Tensor {
	t := ad.New(shape...)
	for i := range t.Data {
		t.Data[i] = float32(r.dist.Rand())
	}
	return t
}

// Scaled returns a sampler sharing the same source with a different mean and
// spread; used for He-style fan-in scaling of dense layers and for the
// class-wise energy calibration weights.
func (r *RandomNormal) Scaled(mean, std float64) *RandomNormal {
	return &RandomNormal{dist: distuv.Normal{Mu: mean, Sigma: std, Src: r.dist.Src}}
}
