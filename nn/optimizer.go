package nn

import (
	"fmt"
	"math"
)

// Optimizer applies accumulated parameter gradients. Implementations receive
// the trainable mask at construction, so a frozen phase never touches frozen
// parameter values or allocates state for them.
type Optimizer interface {
	// Step updates every trainable parameter from its gradient and clears
	// the gradients it consumed.
	Step(lr float32)

	// Reset clears internal state (momentum, moment estimates).
	Reset()

	// Name returns the optimizer name.
	Name() string
}

// OptimizerByName constructs an optimizer for the masked parameter subset.
// Unknown names are a configuration error.
func OptimizerByName(name string, ps *ParamSet, mask TrainableMask) (Optimizer, error) {
	switch name {
	case "sgd":
		return NewSGD(ps, mask, 0.9), nil
	case "adam":
		return NewAdam(ps, mask, 0.9, 0.999, 1e-8), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, name)
	}
}

// trainableNames resolves the subset once at construction.
func trainableNames(ps *ParamSet, mask TrainableMask) []string {
	var out []string
	for _, name := range ps.names {
		if !ps.fixed[name] && mask.Matches(name) {
			out = append(out, name)
		}
	}
	return out
}

// =============================================================================
// SGD with momentum
// =============================================================================

// SGD is stochastic gradient descent with classical momentum.
type SGD struct {
	ps       *ParamSet
	subset   []string
	momentum float32
	velocity map[string][]float32
}

// NewSGD builds an SGD optimizer over the mask-selected parameters.
func NewSGD(ps *ParamSet, mask TrainableMask, momentum float32) *SGD {
	return &SGD{
		ps:       ps,
		subset:   trainableNames(ps, mask),
		momentum: momentum,
		velocity: map[string][]float32{},
	}
}

func (o *SGD) Step(lr float32) {
	for _, name := range o.subset {
		p := o.ps.params[name]
		g := p.Grad()
		if g == nil {
			continue
		}
		if o.momentum == 0 {
			for i := range p.Data {
				p.Data[i] -= lr * g[i]
			}
		} else {
			v := o.velocity[name]
			if v == nil {
				v = make([]float32, len(p.Data))
				o.velocity[name] = v
			}
			for i := range p.Data {
				v[i] = o.momentum*v[i] + g[i]
				p.Data[i] -= lr * v[i]
			}
		}
		p.ZeroGrad()
	}
}

func (o *SGD) Reset() { o.velocity = map[string][]float32{} }

func (o *SGD) Name() string { return "sgd" }

// =============================================================================
// Adam
// =============================================================================

// Adam implements the Adam optimizer with bias correction.
type Adam struct {
	ps           *ParamSet
	subset       []string
	beta1, beta2 float32
	eps          float32
	step         int
	m, v         map[string][]float32
}

// NewAdam builds an Adam optimizer over the mask-selected parameters.
func NewAdam(ps *ParamSet, mask TrainableMask, beta1, beta2, eps float32) *Adam {
	return &Adam{
		ps:     ps,
		subset: trainableNames(ps, mask),
		beta1:  beta1,
		beta2:  beta2,
		eps:    eps,
		m:      map[string][]float32{},
		v:      map[string][]float32{},
	}
}

func (o *Adam) Step(lr float32) {
	o.step++
	bc1 := 1 - float32(math.Pow(float64(o.beta1), float64(o.step)))
	bc2 := 1 - float32(math.Pow(float64(o.beta2), float64(o.step)))
	for _, name := range o.subset {
		p := o.ps.params[name]
		g := p.Grad()
		if g == nil {
			continue
		}
		m := o.m[name]
		v := o.v[name]
		if m == nil {
			m = make([]float32, len(p.Data))
			v = make([]float32, len(p.Data))
			o.m[name] = m
			o.v[name] = v
		}
		for i := range p.Data {
			m[i] = o.beta1*m[i] + (1-o.beta1)*g[i]
			v[i] = o.beta2*v[i] + (1-o.beta2)*g[i]*g[i]
			mhat := m[i] / bc1
			vhat := v[i] / bc2
			p.Data[i] -= lr * mhat / (float32(math.Sqrt(float64(vhat))) + o.eps)
		}
		p.ZeroGrad()
	}
}

func (o *Adam) Reset() {
	o.step = 0
	o.m = map[string][]float32{}
	o.v = map[string][]float32{}
}

func (o *Adam) Name() string { return "adam" }
