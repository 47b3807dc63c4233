package ad

import (
	"fmt"
	"math"
)

func sqrt32(v float32) float32 { return float32(math.Sqrt(float64(v))) }

func axisSplit(shape []int, axis int) (outer, n, inner int, normAxis int) {
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		panic(fmt.Sprintf("ad: axis %d out of range for shape %v", axis, shape))
	}
	outer = prod(shape[:axis])
	n = shape[axis]
	inner = prod(shape[axis+1:])
	return outer, n, inner, axis
}

func reducedShape(shape []int, axis int) []int {
	out := make([]int, 0, len(shape)-1)
	out = append(out, shape[:axis]...)
	return append(out, shape[axis+1:]...)
}

// ReduceSum sums over the given axis (negative axes count from the end),
// dropping that dimension.
func ReduceSum(t *Tensor, axis int) *Tensor {
	outer, n, inner, ax := axisSplit(t.Shape, axis)
	out := result("reduce_sum", reducedShape(t.Shape, ax), t)
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k++ {
			base := (o*n + k) * inner
			ob := out.Data[o*inner : (o+1)*inner]
			for i := 0; i < inner; i++ {
				ob[i] += t.Data[base+i]
			}
		}
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for o := 0; o < outer; o++ {
				gb := out.grad[o*inner : (o+1)*inner]
				for k := 0; k < n; k++ {
					base := (o*n + k) * inner
					for i := 0; i < inner; i++ {
						g[base+i] += gb[i]
					}
				}
			}
		}
	}
	return out
}

// ReduceMean averages over the given axis, dropping that dimension.
func ReduceMean(t *Tensor, axis int) *Tensor {
	_, n, _, _ := axisSplit(t.Shape, axis)
	return MulScalar(ReduceSum(t, axis), 1/float32(n))
}

// ReduceMax takes the maximum over the given axis, dropping that dimension.
// The gradient flows to the position of the maximum only.
func ReduceMax(t *Tensor, axis int) *Tensor {
	outer, n, inner, ax := axisSplit(t.Shape, axis)
	out := result("reduce_max", reducedShape(t.Shape, ax), t)
	argmax := make([]int, len(out.Data))
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := t.Data[o*n*inner+i]
			bestK := 0
			for k := 1; k < n; k++ {
				v := t.Data[(o*n+k)*inner+i]
				if v > best {
					best = v
					bestK = k
				}
			}
			out.Data[o*inner+i] = best
			argmax[o*inner+i] = bestK
		}
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for o := 0; o < outer; o++ {
				for i := 0; i < inner; i++ {
					k := argmax[o*inner+i]
					g[(o*n+k)*inner+i] += out.grad[o*inner+i]
				}
			}
		}
	}
	return out
}

// SumAll reduces the whole tensor to a single-element tensor.
func SumAll(t *Tensor) *Tensor {
	out := result("sum_all", []int{1}, t)
	var s float32
	for _, v := range t.Data {
		s += v
	}
	out.Data[0] = s
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for i := range g {
				g[i] += out.grad[0]
			}
		}
	}
	return out
}

// MeanAll reduces the whole tensor to its scalar mean.
func MeanAll(t *Tensor) *Tensor {
	return MulScalar(SumAll(t), 1/float32(len(t.Data)))
}

// Softmax computes the softmax over the last axis, shifted by the row
// maximum for numerical stability.
func Softmax(t *Tensor) *Tensor {
	n := t.Dim(-1)
	rows := len(t.Data) / n
	out := result("softmax", t.Shape, t)
	for r := 0; r < rows; r++ {
		xr := t.Data[r*n : (r+1)*n]
		or := out.Data[r*n : (r+1)*n]
		maxV := xr[0]
		for _, v := range xr[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		for i, v := range xr {
			e := math.Exp(float64(v - maxV))
			or[i] = float32(e)
			sum += e
		}
		inv := float32(1 / sum)
		for i := range or {
			or[i] *= inv
		}
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for r := 0; r < rows; r++ {
				or := out.Data[r*n : (r+1)*n]
				gr := out.grad[r*n : (r+1)*n]
				var dot float32
				for i := range or {
					dot += gr[i] * or[i]
				}
				for i := range or {
					g[r*n+i] += or[i] * (gr[i] - dot)
				}
			}
		}
	}
	return out
}

// LayerNorm normalizes over the last axis and applies the learned affine
// transform gamma*xhat+beta. gamma and beta have shape [lastDim].
func LayerNorm(x, gamma, beta *Tensor, eps float32) *Tensor {
	n := x.Dim(-1)
	if gamma.NumElems() != n || beta.NumElems() != n {
		panic(fmt.Sprintf("ad: LayerNorm affine params must have %d elements", n))
	}
	rows := len(x.Data) / n
	out := result("layernorm", x.Shape, x, gamma, beta)
	xhat := make([]float32, len(x.Data))
	invStd := make([]float32, rows)
	for r := 0; r < rows; r++ {
		xr := x.Data[r*n : (r+1)*n]
		var mean float64
		for _, v := range xr {
			mean += float64(v)
		}
		mean /= float64(n)
		var variance float64
		for _, v := range xr {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(n)
		inv := float32(1 / math.Sqrt(variance+float64(eps)))
		invStd[r] = inv
		for i, v := range xr {
			h := (v - float32(mean)) * inv
			xhat[r*n+i] = h
			out.Data[r*n+i] = gamma.Data[i]*h + beta.Data[i]
		}
	}
	if out.requires {
		out.back = func() {
			if gamma.requires {
				g := gamma.gradSlice()
				for r := 0; r < rows; r++ {
					for i := 0; i < n; i++ {
						g[i] += out.grad[r*n+i] * xhat[r*n+i]
					}
				}
			}
			if beta.requires {
				g := beta.gradSlice()
				for r := 0; r < rows; r++ {
					for i := 0; i < n; i++ {
						g[i] += out.grad[r*n+i]
					}
				}
			}
			if x.requires {
				g := x.gradSlice()
				for r := 0; r < rows; r++ {
					// dxhat_i = g_i * gamma_i
					// dx = invStd * (dxhat - mean(dxhat) - xhat * mean(dxhat*xhat))
					var m1, m2 float32
					for i := 0; i < n; i++ {
						dh := out.grad[r*n+i] * gamma.Data[i]
						m1 += dh
						m2 += dh * xhat[r*n+i]
					}
					m1 /= float32(n)
					m2 /= float32(n)
					for i := 0; i < n; i++ {
						dh := out.grad[r*n+i] * gamma.Data[i]
						g[r*n+i] += invStd[r] * (dh - m1 - xhat[r*n+i]*m2)
					}
				}
			}
		}
	}
	return out
}
