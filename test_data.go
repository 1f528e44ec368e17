package fpgpu

import "math"

// Deterministic test data generation. A fixed linear congruential
// generator keeps inputs reproducible across runs and platforms without
// depending on math/rand's sequence.

// lcg advances the generator state using Knuth's MMIX parameters.
func lcg(state uint64) uint64 {
	return state*6364136223846793005 + 1442695040888963407
}

// GenerateFloat64 creates size values in [0, 1) from the given seed. The
// same seed always yields the same sequence.
func GenerateFloat64(size int, seed uint64) []float64 {
	data := make([]float64, size)
	rng := seed
	for i := range data {
		rng = lcg(rng)
		data[i] = float64(rng>>11) / (1 << 53)
	}
	return data
}

// GenerateFloat64Range creates size values in [min, max).
func GenerateFloat64Range(size int, seed uint64, min, max float64) []float64 {
	data := GenerateFloat64(size, seed)
	for i := range data {
		data[i] = min + data[i]*(max-min)
	}
	return data
}

// GenerateMatrix creates a rows x cols matrix of values in [0, 1).
func GenerateMatrix(rows, cols int, seed uint64) Matrix {
	return Matrix{
		Width:  cols,
		Height: rows,
		Stride: cols,
		Data:   GenerateFloat64(rows*cols, seed),
	}
}

// GenerateIdentity creates the n x n identity matrix.
func GenerateIdentity(n int) Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.Data[i*n+i] = 1
	}
	return m
}

// GenerateConstant creates a rows x cols matrix with every element v.
func GenerateConstant(rows, cols int, v float64) Matrix {
	m := NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = v
	}
	return m
}

// AlmostEqual reports whether a and b differ by no more than tol.
func AlmostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// SlicesAlmostEqual reports whether a and b agree element-wise within tol.
func SlicesAlmostEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !AlmostEqual(a[i], b[i], tol) {
			return false
		}
	}
	return true
}
