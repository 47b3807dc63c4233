package ad

import "fmt"

// MatMul multiplies x of shape [..., k] by a weight matrix w of shape [k, m],
// producing [..., m]. All leading dimensions of x are treated as a flat batch
// of rows, so the same weights apply point-wise to every element slot.
func MatMul(x, w *Tensor) *Tensor {
	if len(w.Shape) != 2 {
		panic(fmt.Sprintf("ad: MatMul weight must be rank 2, got %v", w.Shape))
	}
	k, m := w.Shape[0], w.Shape[1]
	if x.Dim(-1) != k {
		panic(fmt.Sprintf("ad: MatMul inner dim mismatch %v x %v", x.Shape, w.Shape))
	}
	rows := len(x.Data) / k

	outShape := append(append([]int(nil), x.Shape[:len(x.Shape)-1]...), m)
	out := result("matmul", outShape, x, w)
	for r := 0; r < rows; r++ {
		xr := x.Data[r*k : (r+1)*k]
		or := out.Data[r*m : (r+1)*m]
		for i, xv := range xr {
			if xv == 0 {
				continue
			}
			wr := w.Data[i*m : (i+1)*m]
			for j, wv := range wr {
				or[j] += xv * wv
			}
		}
	}
	if out.requires {
		out.back = func() {
			if x.requires {
				gx := x.gradSlice()
				for r := 0; r < rows; r++ {
					gr := out.grad[r*m : (r+1)*m]
					gxr := gx[r*k : (r+1)*k]
					for i := 0; i < k; i++ {
						wr := w.Data[i*m : (i+1)*m]
						var s float32
						for j, gv := range gr {
							s += gv * wr[j]
						}
						gxr[i] += s
					}
				}
			}
			if w.requires {
				gw := w.gradSlice()
				for r := 0; r < rows; r++ {
					xr := x.Data[r*k : (r+1)*k]
					gr := out.grad[r*m : (r+1)*m]
					for i, xv := range xr {
						if xv == 0 {
							continue
						}
						gwr := gw[i*m : (i+1)*m]
						for j, gv := range gr {
							gwr[j] += xv * gv
						}
					}
				}
			}
		}
	}
	return out
}

// BatchedMatMul multiplies a of shape [..., n, k] by b of shape [..., k, m]
// with identical leading dimensions, producing [..., n, m]. This is the
// adjacency-times-features product inside a bin.
func BatchedMatMul(a, b *Tensor) *Tensor {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		panic("ad: BatchedMatMul needs rank >= 2 operands")
	}
	if !sameShape(a.Shape[:len(a.Shape)-2], b.Shape[:len(b.Shape)-2]) {
		panic(fmt.Sprintf("ad: BatchedMatMul leading dims mismatch %v vs %v", a.Shape, b.Shape))
	}
	n, k := a.Dim(-2), a.Dim(-1)
	if b.Dim(-2) != k {
		panic(fmt.Sprintf("ad: BatchedMatMul inner dim mismatch %v x %v", a.Shape, b.Shape))
	}
	m := b.Dim(-1)
	batches := prod(a.Shape[:len(a.Shape)-2])

	outShape := append(append([]int(nil), a.Shape[:len(a.Shape)-2]...), n, m)
	out := result("bmatmul", outShape, a, b)
	for bi := 0; bi < batches; bi++ {
		ab := a.Data[bi*n*k : (bi+1)*n*k]
		bb := b.Data[bi*k*m : (bi+1)*k*m]
		ob := out.Data[bi*n*m : (bi+1)*n*m]
		for i := 0; i < n; i++ {
			ar := ab[i*k : (i+1)*k]
			or := ob[i*m : (i+1)*m]
			for p, av := range ar {
				if av == 0 {
					continue
				}
				br := bb[p*m : (p+1)*m]
				for j, bv := range br {
					or[j] += av * bv
				}
			}
		}
	}
	if out.requires {
		out.back = func() {
			for bi := 0; bi < batches; bi++ {
				ab := a.Data[bi*n*k : (bi+1)*n*k]
				bb := b.Data[bi*k*m : (bi+1)*k*m]
				gb := out.grad[bi*n*m : (bi+1)*n*m]
				if a.requires {
					ga := a.gradSlice()[bi*n*k : (bi+1)*n*k]
					// dA = dOut @ B^T
					for i := 0; i < n; i++ {
						gr := gb[i*m : (i+1)*m]
						gar := ga[i*k : (i+1)*k]
						for p := 0; p < k; p++ {
							br := bb[p*m : (p+1)*m]
							var s float32
							for j, gv := range gr {
								s += gv * br[j]
							}
							gar[p] += s
						}
					}
				}
				if b.requires {
					gbb := b.gradSlice()[bi*k*m : (bi+1)*k*m]
					// dB = A^T @ dOut
					for i := 0; i < n; i++ {
						ar := ab[i*k : (i+1)*k]
						gr := gb[i*m : (i+1)*m]
						for p, av := range ar {
							if av == 0 {
								continue
							}
							gbr := gbb[p*m : (p+1)*m]
							for j, gv := range gr {
								gbr[j] += av * gv
							}
						}
					}
				}
			}
		}
	}
	return out
}

// PairwiseDist computes the self-pairwise Euclidean distance matrix within
// each block of a [..., p, f] tensor, producing [..., p, p]. The squared
// distance is floored at eps before the square root so that floating-point
// cancellation cannot produce negatives; inside the floor the gradient is
// zero.
func PairwiseDist(x *Tensor, eps float32) *Tensor {
	if len(x.Shape) < 2 {
		panic("ad: PairwiseDist needs rank >= 2 input")
	}
	p, f := x.Dim(-2), x.Dim(-1)
	blocks := prod(x.Shape[:len(x.Shape)-2])

	outShape := append(append([]int(nil), x.Shape[:len(x.Shape)-2]...), p, p)
	out := result("pairwise_dist", outShape, x)
	floored := make([]bool, prod(outShape))
	for b := 0; b < blocks; b++ {
		xb := x.Data[b*p*f : (b+1)*p*f]
		ob := out.Data[b*p*p : (b+1)*p*p]
		fb := floored[b*p*p : (b+1)*p*p]
		for i := 0; i < p; i++ {
			xi := xb[i*f : (i+1)*f]
			for j := 0; j < p; j++ {
				xj := xb[j*f : (j+1)*f]
				var s float32
				for d := 0; d < f; d++ {
					dv := xi[d] - xj[d]
					s += dv * dv
				}
				if s < eps {
					s = eps
					fb[i*p+j] = true
				}
				ob[i*p+j] = sqrt32(s)
			}
		}
	}
	if out.requires {
		out.back = func() {
			gx := x.gradSlice()
			for b := 0; b < blocks; b++ {
				xb := x.Data[b*p*f : (b+1)*p*f]
				ob := out.Data[b*p*p : (b+1)*p*p]
				fb := floored[b*p*p : (b+1)*p*p]
				gb := out.grad[b*p*p : (b+1)*p*p]
				gxb := gx[b*p*f : (b+1)*p*f]
				for i := 0; i < p; i++ {
					xi := xb[i*f : (i+1)*f]
					for j := 0; j < p; j++ {
						if fb[i*p+j] {
							continue
						}
						gv := gb[i*p+j]
						if gv == 0 {
							continue
						}
						scale := gv / ob[i*p+j]
						xj := xb[j*f : (j+1)*f]
						for d := 0; d < f; d++ {
							dd := scale * (xi[d] - xj[d])
							gxb[i*f+d] += dd
							gxb[j*f+d] -= dd
						}
					}
				}
			}
		}
	}
	return out
}
