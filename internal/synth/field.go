package synth

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// NoiseAmplitude is the exclusive upper bound of the uniform noise added to
// every cell.
const NoiseAmplitude = 0.1

// GaussianOrder is the order of the hyper-Gaussian profile.
const GaussianOrder = 2

// FunctionType selects the analytic field.
type FunctionType string

const (
	Gaussians   FunctionType = "Gaussians"
	Lorentzians FunctionType = "Lorentzians"
)

// ParseFunctionType accepts the canonical names case-insensitively.
func ParseFunctionType(s string) (FunctionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gaussians", "gaussian":
		return Gaussians, nil
	case "lorentzians", "lorentzian":
		return Lorentzians, nil
	default:
		return "", fmt.Errorf("unknown function type %q: expected Gaussians or Lorentzians", s)
	}
}

// Field evaluates analytic profiles over a structure table. It never mutates
// the table; noise is drawn from its own generator.
type Field struct {
	table *Table
	noise *Generator
}

// NewField returns a field over table drawing noise from noise.
func NewField(table *Table, noise *Generator) *Field {
	return &Field{table: table, noise: noise}
}

// Table returns the structure table the field evaluates.
func (f *Field) Table() *Table { return f.table }

// Evaluate dispatches to the field selected by kind.
func (f *Field) Evaluate(kind FunctionType, x, y []float64, coeff float64) *mat.Dense {
	if kind == Lorentzians {
		return f.Diverging(x, y, coeff)
	}
	return f.HyperGaussians(x, y, coeff)
}

// EvaluateAt evaluates the selected field at a single point.
func (f *Field) EvaluateAt(kind FunctionType, x, y, coeff float64) float64 {
	return f.Evaluate(kind, []float64{x}, []float64{y}, coeff).At(0, 0)
}

// HyperGaussians sums one separable hyper-Gaussian bump per structure over
// the grid spanned by x and y, then adds noise once per cell. The result has
// len(y) rows and len(x) columns.
func (f *Field) HyperGaussians(x, y []float64, coeff float64) *mat.Dense {
	grid := newGrid(len(y), len(x))
	if grid == nil {
		return &mat.Dense{}
	}
	raw := grid.RawMatrix()
	gx := make([]float64, len(x))
	gy := make([]float64, len(y))
	for _, s := range f.table.structures {
		for j, xv := range x {
			gx[j] = gauss1D(xv, s.CenterX, coeff*s.WidthX, GaussianOrder)
		}
		for i, yv := range y {
			gy[i] = gauss1D(yv, s.CenterY, coeff*s.WidthY, GaussianOrder)
		}
		for i := range y {
			row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
			a := s.Amplitude * gy[i]
			for j := range row {
				row[j] += a * gx[j]
			}
		}
	}
	f.addNoise(raw)
	return grid
}

// HyperGaussianAt evaluates HyperGaussians at a single point.
func (f *Field) HyperGaussianAt(x, y, coeff float64) float64 {
	return f.HyperGaussians([]float64{x}, []float64{y}, coeff).At(0, 0)
}

// Diverging sums one inverse-square profile per structure, which equals the
// structure amplitude at its centre and decays towards zero away from it.
// Noise is added once per structure, inside the summation.
func (f *Field) Diverging(x, y []float64, coeff float64) *mat.Dense {
	grid := newGrid(len(y), len(x))
	if grid == nil {
		return &mat.Dense{}
	}
	raw := grid.RawMatrix()
	for _, s := range f.table.structures {
		w := coeff * s.Slope
		w2 := w * w
		for i, yv := range y {
			dy := yv - s.CenterY
			row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
			for j, xv := range x {
				dx := xv - s.CenterX
				row[j] += s.Amplitude * w2 / (w2 + dx*dx + dy*dy)
			}
		}
		f.addNoise(raw)
	}
	return grid
}

// DivergingAt evaluates Diverging at a single point.
func (f *Field) DivergingAt(x, y, coeff float64) float64 {
	return f.Diverging([]float64{x}, []float64{y}, coeff).At(0, 0)
}

func (f *Field) addNoise(raw blas64.General) {
	for i := 0; i < raw.Rows; i++ {
		f.noise.addNoise(raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols], NoiseAmplitude)
	}
}

// gauss1D is a hyper-Gaussian of order n scaled by width. It is 1 at the
// centre; a zero width yields NaN there and 0 elsewhere.
func gauss1D(u, center, width float64, n int) float64 {
	k := 2 * math.Pow(math.Ln2, 1/float64(n))
	return math.Exp(-k * math.Pow((u-center)/width, float64(2*n)))
}

func newGrid(rows, cols int) *mat.Dense {
	if rows == 0 || cols == 0 {
		return nil
	}
	return mat.NewDense(rows, cols, nil)
}
