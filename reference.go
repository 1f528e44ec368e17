package fpgpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Reference provides host-side matrix multiplies used to verify device
// results. They are slow and obviously correct.
type Reference struct{}

// MatMul computes C = A * B with a plain triple loop in row, column,
// inner-product order. The summation order differs from the tiled
// kernel's, so comparisons against it need a tolerance.
func (Reference) MatMul(a, b, c Matrix) {
	for i := 0; i < c.Height; i++ {
		for j := 0; j < c.Width; j++ {
			var sum float64
			for k := 0; k < a.Width; k++ {
				sum += a.At(i, k) * b.At(k, j)
			}
			c.Set(i, j, sum)
		}
	}
}

// BlasMatMul computes C = A * B through gonum's BLAS implementation, as
// an independent second opinion for larger sizes.
func (Reference) BlasMatMul(a, b, c Matrix) {
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas64.General{Rows: a.Height, Cols: a.Width, Stride: a.Stride, Data: a.Data},
		blas64.General{Rows: b.Height, Cols: b.Width, Stride: b.Stride, Data: b.Data},
		0,
		blas64.General{Rows: c.Height, Cols: c.Width, Stride: c.Stride, Data: c.Data})
}
