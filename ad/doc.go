// Package ad implements a small tape-based reverse-mode autodiff engine over
// dense row-major float32 tensors.
//
// Every operation returns a fresh Tensor; inputs are never mutated. When any
// input participates in gradient computation, the result records its parents
// and a closure that propagates the output gradient backward. Backward walks
// the recorded tape in reverse topological order.
//
// The op set is deliberately narrow: it is exactly what a binned
// graph-network forward pass needs. Index-space operations (Gather,
// ScatterRows, Argmax, OneHot) treat indices as plain ints with no gradient,
// and Detach gives a first-class stop-gradient: the forward value flows, the
// backward contribution is zero.
//
// Shape violations panic: they are programmer errors, not runtime conditions.
// Numeric edge cases (zero distances, zero degrees) are handled inside the
// affected ops with explicit epsilon floors.
package ad
