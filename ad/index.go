package ad

import (
	"fmt"
	"sort"
)

// Argmax returns the index of the maximum over the last axis.
func Argmax(t *Tensor) *IntTensor {
	n := t.Dim(-1)
	rows := len(t.Data) / n
	out := NewIntTensor(t.Shape[:len(t.Shape)-1]...)
	for r := 0; r < rows; r++ {
		xr := t.Data[r*n : (r+1)*n]
		best := 0
		for i := 1; i < n; i++ {
			if xr[i] > xr[best] {
				best = i
			}
		}
		out.Data[r] = best
	}
	return out
}

// ArgsortRows returns, for each row of a [rows, n] integer tensor, the
// permutation that sorts the row ascending. The sort is stable, so elements
// with equal keys keep their original relative order.
func ArgsortRows(keys *IntTensor) *IntTensor {
	if len(keys.Shape) != 2 {
		panic(fmt.Sprintf("ad: ArgsortRows needs rank 2 input, got %v", keys.Shape))
	}
	rows, n := keys.Shape[0], keys.Shape[1]
	out := NewIntTensor(rows, n)
	for r := 0; r < rows; r++ {
		kr := keys.Data[r*n : (r+1)*n]
		or := out.Data[r*n : (r+1)*n]
		for i := range or {
			or[i] = i
		}
		sort.SliceStable(or, func(i, j int) bool { return kr[or[i]] < kr[or[j]] })
	}
	return out
}

// OneHot expands integer class indices of shape [...] into float one-hot
// vectors of shape [..., depth]. Indices outside [0, depth) produce all-zero
// rows, matching the padding convention where slot index 0 of a padded
// element stays zero after encoding only through the value columns.
func OneHot(idx *IntTensor, depth int) *Tensor {
	shape := append(append([]int(nil), idx.Shape...), depth)
	out := New(shape...)
	for i, c := range idx.Data {
		if c >= 0 && c < depth {
			out.Data[i*depth+c] = 1
		}
	}
	return out
}

// Gather selects rows of x ([batch, n, f]) by a per-batch index tensor idx
// ([batch, ...]), producing [batch, ..., f]. The backward pass scatter-adds
// gradients to the gathered rows.
func Gather(x *Tensor, idx *IntTensor) *Tensor {
	if len(x.Shape) != 3 {
		panic(fmt.Sprintf("ad: Gather source must be [batch, n, f], got %v", x.Shape))
	}
	if idx.Shape[0] != x.Shape[0] {
		panic(fmt.Sprintf("ad: Gather batch mismatch %v vs %v", idx.Shape, x.Shape))
	}
	batch, n, f := x.Shape[0], x.Shape[1], x.Shape[2]
	perBatch := prod(idx.Shape) / batch

	outShape := append(append([]int(nil), idx.Shape...), f)
	out := result("gather", outShape, x)
	for b := 0; b < batch; b++ {
		for m := 0; m < perBatch; m++ {
			row := idx.Data[b*perBatch+m]
			if row < 0 || row >= n {
				panic(fmt.Sprintf("ad: Gather index %d out of range [0,%d)", row, n))
			}
			copy(out.Data[(b*perBatch+m)*f:(b*perBatch+m+1)*f], x.Data[(b*n+row)*f:(b*n+row+1)*f])
		}
	}
	if out.requires {
		out.back = func() {
			g := x.gradSlice()
			for b := 0; b < batch; b++ {
				for m := 0; m < perBatch; m++ {
					row := idx.Data[b*perBatch+m]
					src := out.grad[(b*perBatch+m)*f : (b*perBatch+m+1)*f]
					dst := g[(b*n+row)*f : (b*n+row+1)*f]
					for i, v := range src {
						dst[i] += v
					}
				}
			}
		}
	}
	return out
}

// ScatterRows writes rows of x ([batch, m, f]) into a zero tensor of shape
// [batch, n, f] at the per-batch positions given by idx ([batch, m]). Each
// destination index is expected to appear at most once per batch element, so
// no aggregation is performed; this is the inverse of Gather for a
// permutation index.
func ScatterRows(x *Tensor, idx *IntTensor, n int) *Tensor {
	if len(x.Shape) != 3 {
		panic(fmt.Sprintf("ad: ScatterRows source must be [batch, m, f], got %v", x.Shape))
	}
	batch, m, f := x.Shape[0], x.Shape[1], x.Shape[2]
	if len(idx.Shape) != 2 || idx.Shape[0] != batch || idx.Shape[1] != m {
		panic(fmt.Sprintf("ad: ScatterRows index shape %v does not match source %v", idx.Shape, x.Shape))
	}

	out := result("scatter_rows", []int{batch, n, f}, x)
	for b := 0; b < batch; b++ {
		for i := 0; i < m; i++ {
			row := idx.Data[b*m+i]
			if row < 0 || row >= n {
				panic(fmt.Sprintf("ad: ScatterRows index %d out of range [0,%d)", row, n))
			}
			copy(out.Data[(b*n+row)*f:(b*n+row+1)*f], x.Data[(b*m+i)*f:(b*m+i+1)*f])
		}
	}
	if out.requires {
		out.back = func() {
			g := x.gradSlice()
			for b := 0; b < batch; b++ {
				for i := 0; i < m; i++ {
					row := idx.Data[b*m+i]
					src := out.grad[(b*n+row)*f : (b*n+row+1)*f]
					dst := g[(b*m+i)*f : (b*m+i+1)*f]
					for j, v := range src {
						dst[j] += v
					}
				}
			}
		}
	}
	return out
}

// PairwiseConcat stacks, for every (i, j) pair inside a [..., p, f] block,
// the concatenation of element i's and element j's features, producing
// [..., p, p, 2f]. This is the dense input of the trainable node-pair kernel.
func PairwiseConcat(x *Tensor) *Tensor {
	if len(x.Shape) < 2 {
		panic("ad: PairwiseConcat needs rank >= 2 input")
	}
	p, f := x.Dim(-2), x.Dim(-1)
	blocks := prod(x.Shape[:len(x.Shape)-2])

	outShape := append(append([]int(nil), x.Shape[:len(x.Shape)-2]...), p, p, 2*f)
	out := result("pairwise_concat", outShape, x)
	for b := 0; b < blocks; b++ {
		xb := x.Data[b*p*f : (b+1)*p*f]
		ob := out.Data[b*p*p*2*f : (b+1)*p*p*2*f]
		for i := 0; i < p; i++ {
			xi := xb[i*f : (i+1)*f]
			for j := 0; j < p; j++ {
				base := (i*p + j) * 2 * f
				copy(ob[base:base+f], xi)
				copy(ob[base+f:base+2*f], xb[j*f:(j+1)*f])
			}
		}
	}
	if out.requires {
		out.back = func() {
			g := x.gradSlice()
			for b := 0; b < blocks; b++ {
				gb := out.grad[b*p*p*2*f : (b+1)*p*p*2*f]
				gxb := g[b*p*f : (b+1)*p*f]
				for i := 0; i < p; i++ {
					for j := 0; j < p; j++ {
						base := (i*p + j) * 2 * f
						for d := 0; d < f; d++ {
							gxb[i*f+d] += gb[base+d]
							gxb[j*f+d] += gb[base+f+d]
						}
					}
				}
			}
		}
	}
	return out
}

// Concat joins tensors along the last axis. All other dimensions must match.
func Concat(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("ad: Concat of nothing")
	}
	lead := ts[0].Shape[:len(ts[0].Shape)-1]
	total := 0
	for _, t := range ts {
		if !sameShape(t.Shape[:len(t.Shape)-1], lead) {
			panic(fmt.Sprintf("ad: Concat leading dims mismatch %v vs %v", t.Shape, ts[0].Shape))
		}
		total += t.Dim(-1)
	}
	rows := prod(lead)

	outShape := append(append([]int(nil), lead...), total)
	out := result("concat", outShape, ts...)
	offset := 0
	for _, t := range ts {
		n := t.Dim(-1)
		for r := 0; r < rows; r++ {
			copy(out.Data[r*total+offset:r*total+offset+n], t.Data[r*n:(r+1)*n])
		}
		offset += n
	}
	if out.requires {
		out.back = func() {
			offset := 0
			for _, t := range ts {
				n := t.Dim(-1)
				if t.requires {
					g := t.gradSlice()
					for r := 0; r < rows; r++ {
						src := out.grad[r*total+offset : r*total+offset+n]
						dst := g[r*n : (r+1)*n]
						for i, v := range src {
							dst[i] += v
						}
					}
				}
				offset += n
			}
		}
	}
	return out
}

// SliceLast takes the half-open range [from, to) of the last axis.
func SliceLast(t *Tensor, from, to int) *Tensor {
	n := t.Dim(-1)
	if from < 0 || to > n || from >= to {
		panic(fmt.Sprintf("ad: SliceLast [%d:%d] out of range for last dim %d", from, to, n))
	}
	w := to - from
	rows := len(t.Data) / n

	outShape := append(append([]int(nil), t.Shape[:len(t.Shape)-1]...), w)
	out := result("slice_last", outShape, t)
	for r := 0; r < rows; r++ {
		copy(out.Data[r*w:(r+1)*w], t.Data[r*n+from:r*n+to])
	}
	if out.requires {
		out.back = func() {
			g := t.gradSlice()
			for r := 0; r < rows; r++ {
				src := out.grad[r*w : (r+1)*w]
				for i, v := range src {
					g[r*n+from+i] += v
				}
			}
		}
	}
	return out
}
