// Package testutil provides shared assertions for grids and HTTP responses.
package testutil

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// T is the subset of testing.TB the assertions need.
type T interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertGridDims fails the test unless m is rows x cols. A nil or empty
// matrix is 0 x 0.
func AssertGridDims(t T, m *mat.Dense, rows, cols int) {
	t.Helper()
	r, c := 0, 0
	if m != nil && !m.IsEmpty() {
		r, c = m.Dims()
	}
	if r != rows || c != cols {
		t.Fatalf("grid dims = %dx%d, want %dx%d", r, c, rows, cols)
	}
}

// AssertGridNear fails unless got and want have the same shape and every
// cell agrees within tol.
func AssertGridNear(t T, got, want *mat.Dense, tol float64) {
	t.Helper()
	wr, wc := want.Dims()
	AssertGridDims(t, got, wr, wc)
	for i := 0; i < wr; i++ {
		for j := 0; j < wc; j++ {
			if g, w := got.At(i, j), want.At(i, j); math.Abs(g-w) > tol {
				t.Errorf("grid[%d][%d] = %g, want %g (tol %g)", i, j, g, w, tol)
				return
			}
		}
	}
}

// AssertGridInRange fails unless every cell lies in [lo, hi).
func AssertGridInRange(t T, m *mat.Dense, lo, hi float64) {
	t.Helper()
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); !(v >= lo && v < hi) {
				t.Errorf("grid[%d][%d] = %g, want in [%g, %g)", i, j, v, lo, hi)
				return
			}
		}
	}
}
