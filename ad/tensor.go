package ad

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense row-major float32 tensor with optional gradient tracking.
type Tensor struct {
	Shape []int
	Data  []float32

	grad     []float32
	requires bool
	parents  []*Tensor
	back     func()
	op       string
}

// IntTensor holds integer data (bin assignments, argmax results). It never
// carries gradients.
type IntTensor struct {
	Shape []int
	Data  []int
}

func prod(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("ad: negative dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// New returns a zero-filled tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, prod(shape))}
}

// FromSlice wraps data in a tensor of the given shape. The slice is used
// directly, not copied.
func FromSlice(data []float32, shape ...int) *Tensor {
	if len(data) != prod(shape) {
		panic(fmt.Sprintf("ad: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Randn returns a tensor with entries drawn from N(0, std).
func Randn(rng *rand.Rand, std float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64() * std)
	}
	return t
}

// NewIntTensor returns a zero-filled integer tensor.
func NewIntTensor(shape ...int) *IntTensor {
	return &IntTensor{Shape: append([]int(nil), shape...), Data: make([]int, prod(shape))}
}

// NumElems returns the total number of elements.
func (t *Tensor) NumElems() int { return len(t.Data) }

// Dim returns the size of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// RequiresGrad reports whether the tensor participates in backpropagation.
func (t *Tensor) RequiresGrad() bool { return t.requires }

// SetRequiresGrad marks a leaf tensor as a differentiable parameter (or
// freezes it again). Only meaningful on leaves; interior tape nodes derive
// their flag from their parents.
func (t *Tensor) SetRequiresGrad(v bool) { t.requires = v }

// Grad returns the accumulated gradient, or nil if none was ever written.
func (t *Tensor) Grad() []float32 { return t.grad }

// ZeroGrad clears the accumulated gradient in place.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// Clone returns a deep copy of the tensor's value. The copy is a fresh leaf
// with no gradient history.
func (t *Tensor) Clone() *Tensor {
	c := New(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// gradSlice lazily allocates and returns the gradient buffer.
func (t *Tensor) gradSlice() []float32 {
	if t.grad == nil {
		t.grad = make([]float32, len(t.Data))
	}
	return t.grad
}

// result builds the output tensor for an op, wiring gradient tracking when
// any parent requires it.
func result(op string, shape []int, parents ...*Tensor) *Tensor {
	t := &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, prod(shape)), op: op}
	for _, p := range parents {
		if p.requires {
			t.requires = true
			break
		}
	}
	if t.requires {
		t.parents = parents
	}
	return t
}

// Detach returns a stop-gradient view of t: the value is shared, but the
// result is a leaf that contributes nothing to backpropagation.
func Detach(t *Tensor) *Tensor {
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: t.Data, op: "detach"}
}

// Reshape returns a tensor with the same flat data and a new shape. One
// dimension may be -1 and is inferred.
func Reshape(t *Tensor, shape ...int) *Tensor {
	shape = append([]int(nil), shape...)
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer != -1 {
				panic("ad: Reshape with more than one inferred dimension")
			}
			infer = i
		} else {
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			panic(fmt.Sprintf("ad: cannot infer dimension reshaping %v to %v", t.Shape, shape))
		}
		shape[infer] = len(t.Data) / known
	}
	if prod(shape) != len(t.Data) {
		panic(fmt.Sprintf("ad: cannot reshape %v to %v", t.Shape, shape))
	}
	out := result("reshape", shape, t)
	copy(out.Data, t.Data)
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for i, v := range out.grad {
				g[i] += v
			}
		}
	}
	return out
}
