package fpgpu

import (
	"fmt"
	"math"
)

// ToleranceConfig defines acceptable error bounds for comparing computed
// results against a reference.
type ToleranceConfig struct {
	AbsTol   float64
	RelTol   float64
	ULPTol   int
	CheckNaN bool // NaN in matching positions counts as equal
	CheckInf bool // infinities must match exactly
}

// DefaultTolerance covers the accumulation error of a tiled float64
// multiply at the sizes this package targets.
func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   1e-12,
		RelTol:   1e-9,
		ULPTol:   4,
		CheckNaN: true,
		CheckInf: true,
	}
}

// StrictTolerance is for comparisons where the summation order is
// identical and results should agree to the last few bits.
func StrictTolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   1e-14,
		RelTol:   1e-12,
		ULPTol:   1,
		CheckNaN: true,
		CheckInf: true,
	}
}

// RelaxedTolerance is for comparisons against differently-ordered
// computations such as vendor BLAS.
func RelaxedTolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   1e-9,
		RelTol:   1e-6,
		ULPTol:   64,
		CheckNaN: true,
		CheckInf: true,
	}
}

// Float64NearEqual reports whether a and b agree within tol. A value
// passes if it meets the absolute, relative or ULP bound.
func Float64NearEqual(a, b float64, tol ToleranceConfig) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return tol.CheckNaN && math.IsNaN(a) && math.IsNaN(b)
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return tol.CheckInf && a == b
	}
	diff := math.Abs(a - b)
	if diff <= tol.AbsTol {
		return true
	}
	largest := math.Max(math.Abs(a), math.Abs(b))
	if diff <= largest*tol.RelTol {
		return true
	}
	return Float64ULPDiff(a, b) <= tol.ULPTol
}

// Float64ULPDiff returns the distance between a and b in units of least
// precision. Values of opposite sign are reported as math.MaxInt apart.
func Float64ULPDiff(a, b float64) int {
	if a == b {
		return 0
	}
	ia := int64(math.Float64bits(a))
	ib := int64(math.Float64bits(b))
	if (ia < 0) != (ib < 0) {
		return math.MaxInt
	}
	diff := ia - ib
	if diff < 0 {
		diff = -diff
	}
	return int(diff)
}

// VerificationResult summarizes an element-wise comparison.
type VerificationResult struct {
	TotalElements int
	NumErrors     int
	FirstErrorIdx int // -1 when every element passed
	MaxAbsError   float64
	MaxRelError   float64
}

// IsAcceptable reports whether every element passed.
func (r VerificationResult) IsAcceptable() bool {
	return r.NumErrors == 0
}

// String formats the result for logs and test failures.
func (r VerificationResult) String() string {
	if r.IsAcceptable() {
		return fmt.Sprintf("PASS: %d elements within tolerance", r.TotalElements)
	}
	return fmt.Sprintf("FAIL: %d of %d elements out of tolerance (first at %d, max abs %.3e, max rel %.3e)",
		r.NumErrors, r.TotalElements, r.FirstErrorIdx, r.MaxAbsError, r.MaxRelError)
}

// VerifyFloat64s compares actual against expected element-wise. Missing
// trailing elements in actual count as errors.
func VerifyFloat64s(expected, actual []float64, tol ToleranceConfig) VerificationResult {
	r := VerificationResult{TotalElements: len(expected), FirstErrorIdx: -1}
	for i := range expected {
		if i >= len(actual) {
			r.NumErrors += len(expected) - i
			if r.FirstErrorIdx < 0 {
				r.FirstErrorIdx = i
			}
			break
		}
		e, a := expected[i], actual[i]
		if Float64NearEqual(e, a, tol) {
			continue
		}
		r.NumErrors++
		if r.FirstErrorIdx < 0 {
			r.FirstErrorIdx = i
		}
		if absErr := math.Abs(e - a); absErr > r.MaxAbsError {
			r.MaxAbsError = absErr
		}
		if e != 0 {
			if relErr := math.Abs(e-a) / math.Abs(e); relErr > r.MaxRelError {
				r.MaxRelError = relErr
			}
		}
	}
	return r
}
