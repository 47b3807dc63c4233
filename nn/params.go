// Package nn provides the layer building blocks used by the particle-flow
// model: dense layers, point-wise feed-forward stacks, layer normalization,
// a named parameter registry with trainable-subset masking, and optimizers.
package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfluke/mlpf/ad"
)

// ParamSet is a registry of named model parameters. Layer constructors
// register their weights under slash-separated names ("ffn_id/dense_0/w"),
// which is what the trainable-subset toggle and the optimizer operate on.
type ParamSet struct {
	names  []string
	params map[string]*ad.Tensor
	fixed  map[string]bool
}

// NewParamSet returns an empty registry.
func NewParamSet() *ParamSet {
	return &ParamSet{params: map[string]*ad.Tensor{}, fixed: map[string]bool{}}
}

// Register adds a trainable parameter under name and returns it.
// Registering the same name twice is a programmer error.
func (s *ParamSet) Register(name string, t *ad.Tensor) *ad.Tensor {
	if _, ok := s.params[name]; ok {
		panic(fmt.Sprintf("nn: parameter %q registered twice", name))
	}
	t.SetRequiresGrad(true)
	s.names = append(s.names, name)
	s.params[name] = t
	return t
}

// RegisterFixed adds a permanently non-trainable parameter (the LSH codebook).
// It is never affected by trainable masks and never receives gradients.
func (s *ParamSet) RegisterFixed(name string, t *ad.Tensor) *ad.Tensor {
	if _, ok := s.params[name]; ok {
		panic(fmt.Sprintf("nn: parameter %q registered twice", name))
	}
	t.SetRequiresGrad(false)
	s.names = append(s.names, name)
	s.params[name] = t
	s.fixed[name] = true
	return t
}

// Get returns the parameter registered under name, or nil.
func (s *ParamSet) Get(name string) *ad.Tensor { return s.params[name] }

// Names returns all registered names in registration order.
func (s *ParamSet) Names() []string { return append([]string(nil), s.names...) }

// NumParams returns the total element count across trainable parameters.
func (s *ParamSet) NumParams() int {
	n := 0
	for name, t := range s.params {
		if !s.fixed[name] {
			n += t.NumElems()
		}
	}
	return n
}

// ZeroGrad clears the gradient buffers of every parameter.
func (s *ParamSet) ZeroGrad() {
	for _, t := range s.params {
		t.ZeroGrad()
	}
}

// TrainableMask selects the subset of parameters that train. An empty mask
// means everything trains. A non-empty mask matches a parameter when one of
// its entries equals the parameter name or is a slash-delimited prefix of it,
// so "ffn_id" covers "ffn_id/dense_0/w".
type TrainableMask struct {
	prefixes []string
}

// TrainAll returns the mask that keeps every parameter trainable.
func TrainAll() TrainableMask { return TrainableMask{} }

// NewTrainableMask builds a mask from layer/parameter names.
func NewTrainableMask(names ...string) TrainableMask {
	p := append([]string(nil), names...)
	sort.Strings(p)
	return TrainableMask{prefixes: p}
}

// Matches reports whether the named parameter is trainable under the mask.
func (m TrainableMask) Matches(name string) bool {
	if len(m.prefixes) == 0 {
		return true
	}
	for _, p := range m.prefixes {
		if name == p || strings.HasPrefix(name, p+"/") {
			return true
		}
	}
	return false
}

// SetTrainable applies the mask to the registry: matched parameters take part
// in backpropagation, everything else is frozen and will accumulate exactly
// zero gradient. Parameter values are untouched, so phases can be switched
// back and forth mid-training. Fixed parameters stay frozen regardless.
func (s *ParamSet) SetTrainable(mask TrainableMask) {
	for name, t := range s.params {
		if s.fixed[name] {
			continue
		}
		t.SetRequiresGrad(mask.Matches(name))
	}
}

// Trainable returns the names currently marked trainable, in registration
// order.
func (s *ParamSet) Trainable() []string {
	var out []string
	for _, name := range s.names {
		if s.params[name].RequiresGrad() {
			out = append(out, name)
		}
	}
	return out
}
