package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/mlpf/ad"
)

func TestOptimizerByName(t *testing.T) {
	ps := NewParamSet()
	for _, name := range []string{"sgd", "adam"} {
		opt, err := OptimizerByName(name, ps, TrainAll())
		require.NoError(t, err)
		assert.Equal(t, name, opt.Name())
	}

	_, err := OptimizerByName("lamb", ps, TrainAll())
	assert.ErrorIs(t, err, ErrUnknownOptimizer)
}

// quadStep backpropagates loss = sum(x^2) and applies one optimizer step.
func quadStep(x *ad.Tensor, opt Optimizer, lr float32) {
	ad.Backward(ad.SumAll(ad.Square(x)))
	opt.Step(lr)
}

func TestSGDConvergesOnQuadratic(t *testing.T) {
	ps := NewParamSet()
	x := ps.Register("x", ad.FromSlice([]float32{4, -3}, 2))
	opt := NewSGD(ps, TrainAll(), 0)

	for i := 0; i < 200; i++ {
		quadStep(x, opt, 0.1)
	}
	assert.InDelta(t, 0, x.Data[0], 1e-3)
	assert.InDelta(t, 0, x.Data[1], 1e-3)
}

func TestSGDMomentumAccumulates(t *testing.T) {
	ps := NewParamSet()
	x := ps.Register("x", ad.FromSlice([]float32{1}, 1))
	opt := NewSGD(ps, TrainAll(), 0.9)

	quadStep(x, opt, 0.1) // g=2, v=2, x=1-0.2=0.8
	assert.InDelta(t, 0.8, x.Data[0], 1e-6)
	quadStep(x, opt, 0.1) // g=1.6, v=0.9*2+1.6=3.4, x=0.8-0.34
	assert.InDelta(t, 0.46, x.Data[0], 1e-5)
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	ps := NewParamSet()
	x := ps.Register("x", ad.FromSlice([]float32{4, -3}, 2))
	opt := NewAdam(ps, TrainAll(), 0.9, 0.999, 1e-8)

	prev := ad.SumAll(ad.Square(x.Clone())).Data[0]
	for i := 0; i < 300; i++ {
		quadStep(x, opt, 0.05)
	}
	now := ad.SumAll(ad.Square(x.Clone())).Data[0]
	assert.Less(t, now, prev/10)
}

func TestStepClearsGradients(t *testing.T) {
	ps := NewParamSet()
	x := ps.Register("x", ad.FromSlice([]float32{2}, 1))
	opt := NewSGD(ps, TrainAll(), 0)

	quadStep(x, opt, 0.1)
	for _, g := range x.Grad() {
		assert.Equal(t, float32(0), g)
	}
}

func TestOptimizerHonorsMask(t *testing.T) {
	ps := NewParamSet()
	a := ps.Register("head_a/w", ad.FromSlice([]float32{1}, 1))
	b := ps.Register("head_b/w", ad.FromSlice([]float32{1}, 1))
	ps.SetTrainable(NewTrainableMask("head_a"))
	opt := NewSGD(ps, NewTrainableMask("head_a"), 0)

	ad.Backward(ad.SumAll(ad.Add(ad.Square(a), ad.Square(b))))
	opt.Step(0.1)

	assert.InDelta(t, 0.8, a.Data[0], 1e-6)
	// The frozen parameter is untouched.
	assert.Equal(t, float32(1), b.Data[0])
}

func TestAdamReset(t *testing.T) {
	ps := NewParamSet()
	x := ps.Register("x", ad.FromSlice([]float32{1}, 1))
	opt := NewAdam(ps, TrainAll(), 0.9, 0.999, 1e-8)
	quadStep(x, opt, 0.01)
	opt.Reset()
	assert.Empty(t, opt.m)
	assert.Equal(t, 0, opt.step)
}
