package fpgpu

import "fmt"

// Matrix is a dense row-major matrix of float64 values. Element (r, c)
// lives at Data[r*Stride+c]. A Matrix may be a view into a larger buffer,
// in which case Stride exceeds Width and rows are separated by padding
// that is not part of the matrix.
type Matrix struct {
	Width  int
	Height int
	Stride int
	Data   []float64
}

// NewMatrix allocates a zeroed rows x cols matrix with Stride == Width.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{
		Width:  cols,
		Height: rows,
		Stride: cols,
		Data:   make([]float64, rows*cols),
	}
}

// MatrixFromSlice wraps data as a dense rows x cols matrix without
// copying. The slice must hold at least rows*cols elements.
func MatrixFromSlice(rows, cols int, data []float64) (Matrix, error) {
	if rows < 0 || cols < 0 {
		return Matrix{}, NewInvalidArgError("MatrixFromSlice",
			fmt.Sprintf("negative dimensions %dx%d", rows, cols))
	}
	if len(data) < rows*cols {
		return Matrix{}, NewInvalidArgError("MatrixFromSlice",
			fmt.Sprintf("slice holds %d elements, %dx%d needs %d",
				len(data), rows, cols, rows*cols))
	}
	return Matrix{Width: cols, Height: rows, Stride: cols, Data: data}, nil
}

// Dims returns the matrix dimensions as (rows, cols).
func (m Matrix) Dims() (rows, cols int) {
	return m.Height, m.Width
}

// At returns the element at row r, column c.
func (m Matrix) At(r, c int) float64 {
	return m.Data[r*m.Stride+c]
}

// Set stores v at row r, column c.
func (m Matrix) Set(r, c int, v float64) {
	m.Data[r*m.Stride+c] = v
}

// Sub returns a rows x cols view of m starting at element (r, c). The
// view shares m's backing data and keeps m's stride.
func (m Matrix) Sub(r, c, rows, cols int) Matrix {
	return Matrix{
		Width:  cols,
		Height: rows,
		Stride: m.Stride,
		Data:   m.Data[r*m.Stride+c:],
	}
}

// row returns the r'th row without stride padding.
func (m Matrix) row(r int) []float64 {
	start := r * m.Stride
	return m.Data[start : start+m.Width]
}

// validate checks that the shape is coherent and the backing slice can
// hold it. op and name feed the error message.
func (m Matrix) validate(op, name string) error {
	if m.Width < 1 || m.Height < 1 {
		return NewInvalidArgError(op,
			fmt.Sprintf("matrix %s has empty dimensions %dx%d", name, m.Height, m.Width))
	}
	if m.Stride < m.Width {
		return NewInvalidArgError(op,
			fmt.Sprintf("matrix %s stride %d is less than width %d", name, m.Stride, m.Width))
	}
	if need := (m.Height-1)*m.Stride + m.Width; len(m.Data) < need {
		return NewInvalidArgError(op,
			fmt.Sprintf("matrix %s backing slice holds %d elements, shape needs %d",
				name, len(m.Data), need))
	}
	return nil
}

// deviceMatrix is the device-side descriptor of a matrix: a dense device
// buffer plus shape. Tiles are stride-preserving views into the same
// buffer, which is how the kernel walks the tile grid without indexing
// the full matrix.
type deviceMatrix struct {
	width  int
	height int
	stride int
	buf    DevicePtr
}

// tile returns the t x t sub-view at tile coordinates (br, bc).
func (d deviceMatrix) tile(br, bc, t int) deviceMatrix {
	return deviceMatrix{
		width:  t,
		height: t,
		stride: d.stride,
		buf:    d.buf.Offset((br*d.stride + bc) * t * float64Bytes),
	}
}

// at returns the element at row r, column c of the view.
func (d deviceMatrix) at(r, c int) float64 {
	return d.buf.Float64()[r*d.stride+c]
}

// set stores v at row r, column c of the view.
func (d deviceMatrix) set(r, c int, v float64) {
	d.buf.Float64()[r*d.stride+c] = v
}
