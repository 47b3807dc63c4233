package ad

import (
	"fmt"
	"math"
	"math/rand"
)

// unary builds an elementwise op from a forward function and the derivative
// of the output with respect to the input. The derivative receives both the
// input value and the already-computed output value.
func unary(op string, t *Tensor, f func(x float64) float64, df func(x, y float32) float32) *Tensor {
	out := result(op, t.Shape, t)
	for i, v := range t.Data {
		out.Data[i] = float32(f(float64(v)))
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for i, gv := range out.grad {
				g[i] += gv * df(t.Data[i], out.Data[i])
			}
		}
	}
	return out
}

// Exp computes e^x elementwise. Callers are expected to clip the input first
// when overflow is a concern.
func Exp(t *Tensor) *Tensor {
	return unary("exp", t, math.Exp, func(_, y float32) float32 { return y })
}

// Log computes the natural logarithm elementwise.
func Log(t *Tensor) *Tensor {
	return unary("log", t, math.Log, func(x, _ float32) float32 { return 1 / x })
}

// Log1p computes log(x+1), the forward transform used for energies.
func Log1p(t *Tensor) *Tensor {
	return unary("log1p", t, math.Log1p, func(x, _ float32) float32 { return 1 / (x + 1) })
}

// Sqrt computes the elementwise square root; the gradient at exactly zero is
// forced to zero rather than infinity.
func Sqrt(t *Tensor) *Tensor {
	return unary("sqrt", t, math.Sqrt, func(_, y float32) float32 {
		if y == 0 {
			return 0
		}
		return 0.5 / y
	})
}

// Square computes x^2 elementwise.
func Square(t *Tensor) *Tensor {
	return unary("square", t, func(x float64) float64 { return x * x },
		func(x, _ float32) float32 { return 2 * x })
}

// Abs computes |x| elementwise.
func Abs(t *Tensor) *Tensor {
	return unary("abs", t, math.Abs, func(x, _ float32) float32 {
		if x < 0 {
			return -1
		}
		return 1
	})
}

// Neg computes -x elementwise.
func Neg(t *Tensor) *Tensor {
	return unary("neg", t, func(x float64) float64 { return -x },
		func(_, _ float32) float32 { return -1 })
}

// Sigmoid computes 1/(1+e^-x) elementwise.
func Sigmoid(t *Tensor) *Tensor {
	return unary("sigmoid", t, func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float32) float32 { return y * (1 - y) })
}

// Tanh computes tanh(x) elementwise.
func Tanh(t *Tensor) *Tensor {
	return unary("tanh", t, math.Tanh, func(_, y float32) float32 { return 1 - y*y })
}

// Sin computes sin(x) elementwise.
func Sin(t *Tensor) *Tensor {
	return unary("sin", t, math.Sin, func(x, _ float32) float32 {
		return float32(math.Cos(float64(x)))
	})
}

// Cos computes cos(x) elementwise.
func Cos(t *Tensor) *Tensor {
	return unary("cos", t, math.Cos, func(x, _ float32) float32 {
		return float32(-math.Sin(float64(x)))
	})
}

// Sinh computes sinh(x) elementwise.
func Sinh(t *Tensor) *Tensor {
	return unary("sinh", t, math.Sinh, func(x, _ float32) float32 {
		return float32(math.Cosh(float64(x)))
	})
}

// Cosh computes cosh(x) elementwise.
func Cosh(t *Tensor) *Tensor {
	return unary("cosh", t, math.Cosh, func(x, _ float32) float32 {
		return float32(math.Sinh(float64(x)))
	})
}

// Relu computes max(0, x) elementwise.
func Relu(t *Tensor) *Tensor {
	return unary("relu", t, func(x float64) float64 { return math.Max(0, x) },
		func(x, _ float32) float32 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// Elu computes x for x>0 and e^x-1 otherwise.
func Elu(t *Tensor) *Tensor {
	return unary("elu", t, func(x float64) float64 {
		if x > 0 {
			return x
		}
		return math.Expm1(x)
	}, func(x, y float32) float32 {
		if x > 0 {
			return 1
		}
		return y + 1
	})
}

// Clip limits values to [lo, hi]. The gradient passes through unclipped
// positions and is zero where the bound was hit.
func Clip(t *Tensor, lo, hi float32) *Tensor {
	out := result("clip", t.Shape, t)
	for i, v := range t.Data {
		if v < lo {
			v = lo
		} else if v > hi {
			v = hi
		}
		out.Data[i] = v
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for i, gv := range out.grad {
				if t.Data[i] > lo && t.Data[i] < hi {
					g[i] += gv
				}
			}
		}
	}
	return out
}

// InvSqrtEps computes (x+eps)^(-1/2), the degree normalization term.
func InvSqrtEps(t *Tensor, eps float32) *Tensor {
	out := result("invsqrteps", t.Shape, t)
	for i, v := range t.Data {
		out.Data[i] = float32(1 / math.Sqrt(float64(v+eps)))
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for i, gv := range out.grad {
				y := out.Data[i]
				g[i] += gv * (-0.5) * y * y * y
			}
		}
	}
	return out
}

// AddScalar computes x+s elementwise.
func AddScalar(t *Tensor, s float32) *Tensor {
	out := result("adds", t.Shape, t)
	for i, v := range t.Data {
		out.Data[i] = v + s
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for i, gv := range out.grad {
				g[i] += gv
			}
		}
	}
	return out
}

// MulScalar computes x*s elementwise.
func MulScalar(t *Tensor, s float32) *Tensor {
	out := result("muls", t.Shape, t)
	for i, v := range t.Data {
		out.Data[i] = v * s
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for i, gv := range out.grad {
				g[i] += gv * s
			}
		}
	}
	return out
}

// binary builds a same-shape elementwise op.
func binary(op string, a, b *Tensor, f func(av, bv float32) float32, dfa, dfb func(av, bv, g float32) float32) *Tensor {
	if !sameShape(a.Shape, b.Shape) {
		panic(fmt.Sprintf("ad: %s shape mismatch %v vs %v", op, a.Shape, b.Shape))
	}
	out := result(op, a.Shape, a, b)
	for i := range out.Data {
		out.Data[i] = f(a.Data[i], b.Data[i])
	}
	if out.requires {
		out.back = func() {
			if a.requires {
				g := a.gradSlice()
				for i, gv := range out.grad {
					g[i] += dfa(a.Data[i], b.Data[i], gv)
				}
			}
			if b.requires {
				g := b.gradSlice()
				for i, gv := range out.grad {
					g[i] += dfb(a.Data[i], b.Data[i], gv)
				}
			}
		}
	}
	return out
}

// Add computes a+b elementwise (same shape).
func Add(a, b *Tensor) *Tensor {
	return binary("add", a, b,
		func(av, bv float32) float32 { return av + bv },
		func(_, _, g float32) float32 { return g },
		func(_, _, g float32) float32 { return g })
}

// Sub computes a-b elementwise (same shape).
func Sub(a, b *Tensor) *Tensor {
	return binary("sub", a, b,
		func(av, bv float32) float32 { return av - bv },
		func(_, _, g float32) float32 { return g },
		func(_, _, g float32) float32 { return -g })
}

// Mul computes a*b elementwise (same shape).
func Mul(a, b *Tensor) *Tensor {
	return binary("mul", a, b,
		func(av, bv float32) float32 { return av * bv },
		func(_, bv, g float32) float32 { return g * bv },
		func(av, _, g float32) float32 { return g * av })
}

// Div computes a/b elementwise (same shape). Callers guard against zero
// denominators with an epsilon where that is a steady-state condition.
func Div(a, b *Tensor) *Tensor {
	return binary("div", a, b,
		func(av, bv float32) float32 { return av / bv },
		func(_, bv, g float32) float32 { return g / bv },
		func(av, bv, g float32) float32 { return -g * av / (bv * bv) })
}

// broadcastIndex maps every flat index of shape a onto the flat index of the
// broadcast operand b. b is left-padded with singleton dimensions to a's
// rank; every remaining dimension must equal a's or be 1.
func broadcastIndex(a, b []int) []int {
	if len(b) > len(a) {
		panic(fmt.Sprintf("ad: broadcast rank mismatch %v vs %v", a, b))
	}
	for len(b) < len(a) {
		b = append([]int{1}, b...)
	}
	bstride := make([]int, len(b))
	s := 1
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == 1 {
			bstride[i] = 0
		} else if b[i] == a[i] {
			bstride[i] = s
		} else {
			panic(fmt.Sprintf("ad: cannot broadcast %v to %v", b, a))
		}
		s *= b[i]
	}
	idx := make([]int, prod(a))
	counter := make([]int, len(a))
	bi := 0
	for i := range idx {
		idx[i] = bi
		for d := len(a) - 1; d >= 0; d-- {
			counter[d]++
			bi += bstride[d]
			if counter[d] < a[d] {
				break
			}
			counter[d] = 0
			bi -= a[d] * bstride[d]
		}
	}
	return idx
}

// MulB multiplies a by b, broadcasting b across the dimensions where b has
// size 1. Used pervasively for masks and gates.
func MulB(a, b *Tensor) *Tensor {
	if sameShape(a.Shape, b.Shape) {
		return Mul(a, b)
	}
	bidx := broadcastIndex(a.Shape, b.Shape)
	out := result("mulb", a.Shape, a, b)
	for i := range out.Data {
		out.Data[i] = a.Data[i] * b.Data[bidx[i]]
	}
	if out.requires {
		out.back = func() {
			if a.requires {
				g := a.gradSlice()
				for i, gv := range out.grad {
					g[i] += gv * b.Data[bidx[i]]
				}
			}
			if b.requires {
				g := b.gradSlice()
				for i, gv := range out.grad {
					g[bidx[i]] += gv * a.Data[i]
				}
			}
		}
	}
	return out
}

// AddB adds b to a, broadcasting b across the dimensions where b has size 1.
func AddB(a, b *Tensor) *Tensor {
	if sameShape(a.Shape, b.Shape) {
		return Add(a, b)
	}
	bidx := broadcastIndex(a.Shape, b.Shape)
	out := result("addb", a.Shape, a, b)
	for i := range out.Data {
		out.Data[i] = a.Data[i] + b.Data[bidx[i]]
	}
	if out.requires {
		out.back = func() {
			if a.requires {
				g := a.gradSlice()
				for i, gv := range out.grad {
					g[i] += gv
				}
			}
			if b.requires {
				g := b.gradSlice()
				for i, gv := range out.grad {
					g[bidx[i]] += gv
				}
			}
		}
	}
	return out
}

// Dropout randomly zeroes entries with probability rate and rescales the
// survivors by 1/(1-rate). With training=false or rate<=0 the input passes
// through unchanged.
func Dropout(t *Tensor, rate float64, rng *rand.Rand, training bool) *Tensor {
	if !training || rate <= 0 {
		return t
	}
	keep := float32(1 / (1 - rate))
	mask := make([]float32, len(t.Data))
	for i := range mask {
		if rng.Float64() >= rate {
			mask[i] = keep
		}
	}
	out := result("dropout", t.Shape, t)
	for i, v := range t.Data {
		out.Data[i] = v * mask[i]
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for i, gv := range out.grad {
				g[i] += gv * mask[i]
			}
		}
	}
	return out
}
