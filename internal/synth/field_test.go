package synth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/mockscanner/internal/testutil"
)

func singleStructure(amp float64) *Table {
	return NewTableFromStructures(Structure{
		CenterX: 0, CenterY: 0, WidthX: 1, WidthY: 1, Amplitude: amp, Slope: 0.05,
	})
}

func TestHyperGaussianAt_Centre(t *testing.T) {
	f := NewField(singleStructure(5), NewGenerator(1))
	for i := 0; i < 50; i++ {
		v := f.HyperGaussianAt(0, 0, 1)
		if v < 5.0 || v >= 5.1 {
			t.Fatalf("value at centre = %g, want in [5.0, 5.1)", v)
		}
	}
}

func TestHyperGaussianAt_FarFromCentreIsNoise(t *testing.T) {
	f := NewField(singleStructure(5), NewGenerator(2))
	v := f.HyperGaussianAt(50, -50, 1)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.Less(t, v, NoiseAmplitude)
}

func TestHyperGaussians_CentreApproachesAmplitudeForAnyCoefficient(t *testing.T) {
	f := NewField(singleStructure(3), NewGenerator(3))
	for _, c := range []float64{0.01, 0.5, 1, 4, 100} {
		v := f.HyperGaussianAt(0, 0, c)
		if v < 3 || v >= 3+NoiseAmplitude {
			t.Errorf("coeff=%g: value at centre = %g, want in [3, 3.1)", c, v)
		}
	}
}

func TestDivergingAt_CentreEqualsAmplitudePlusNoise(t *testing.T) {
	for _, slope := range []float64{0.001, 0.05, 0.099} {
		table := NewTableFromStructures(Structure{CenterX: 1.5, CenterY: -2, Amplitude: 7, Slope: slope})
		f := NewField(table, NewGenerator(4))
		v := f.DivergingAt(1.5, -2, 1)
		if v < 7 || v >= 7.1 {
			t.Errorf("slope=%g: value at centre = %g, want in [7, 7.1)", slope, v)
		}
	}
}

func TestDiverging_DecaysAwayFromCentre(t *testing.T) {
	table := NewTableFromStructures(Structure{Amplitude: 4, Slope: 0.1})
	f := NewField(table, NewGenerator(5))
	near := f.DivergingAt(0.05, 0, 1)
	far := f.DivergingAt(10, 0, 1)
	assert.Greater(t, near, far)
	assert.Less(t, far, 0.01+NoiseAmplitude)
}

// Gaussians draw one noise value per cell; diverging profiles draw one per
// structure per cell. With zero-amplitude structures the output is pure noise
// and the draw count is visible.
func TestNoiseDrawCountDiffersBetweenFields(t *testing.T) {
	zero := NewTableFromStructures(Structure{WidthX: 1, WidthY: 1, Slope: 0.1},
		Structure{WidthX: 1, WidthY: 1, Slope: 0.1},
		Structure{WidthX: 1, WidthY: 1, Slope: 0.1})

	ref := NewGenerator(99)
	d1, d2, d3 := ref.Float64()*NoiseAmplitude, ref.Float64()*NoiseAmplitude, ref.Float64()*NoiseAmplitude

	g := NewField(zero, NewGenerator(99)).HyperGaussianAt(0, 0, 1)
	assert.InDelta(t, d1, g, 1e-15)

	d := NewField(zero, NewGenerator(99)).DivergingAt(0, 0, 1)
	assert.InDelta(t, d1+d2+d3, d, 1e-15)
}

func TestFieldShapeIsRowsYColsX(t *testing.T) {
	f := NewField(DefaultTable(), NewGenerator(6))
	x := Linspace(-5, 5, 7)
	y := Linspace(-5, 5, 3)
	for _, kind := range []FunctionType{Gaussians, Lorentzians} {
		testutil.AssertGridDims(t, f.Evaluate(kind, x, y, 1), 3, 7)
	}
}

func TestFieldFarFromStructuresIsNoise(t *testing.T) {
	f := NewField(singleStructure(5), NewGenerator(11))
	x := Linspace(40, 50, 9)
	y := Linspace(-50, -40, 4)
	testutil.AssertGridInRange(t, f.HyperGaussians(x, y, 1), 0, NoiseAmplitude)

	// One noise draw per structure, and the single profile tail is tiny.
	testutil.AssertGridInRange(t, f.Diverging(x, y, 1), 0, NoiseAmplitude+1e-3)
}

func TestFieldCentreCellCarriesAmplitude(t *testing.T) {
	f := NewField(singleStructure(5), NewGenerator(12))
	grid := f.HyperGaussians([]float64{0}, []float64{0}, 1)
	testutil.AssertGridInRange(t, grid, 5, 5+NoiseAmplitude)
}

func TestFieldMatchesPointwiseEvaluation(t *testing.T) {
	table := NewTableFromStructures(Structure{CenterX: 0.5, CenterY: -0.5, WidthX: 0.7, WidthY: 0.3, Amplitude: 2})
	grid := NewField(table, NewGenerator(7)).HyperGaussians([]float64{0, 0.5, 1}, []float64{-0.5, 0}, 1)
	point := NewField(table, NewGenerator(8)).HyperGaussianAt(1, 0, 1)
	// Same position, independent noise.
	assert.InDelta(t, grid.At(1, 2), point, NoiseAmplitude)
}

func TestZeroCoefficientIsNotValidated(t *testing.T) {
	f := NewField(singleStructure(5), NewGenerator(9))
	assert.True(t, math.IsNaN(f.HyperGaussianAt(0, 0, 0)))
	assert.True(t, math.IsNaN(f.DivergingAt(0, 0, 0)))
	// Away from the centre a zero width collapses the bump to zero.
	v := f.HyperGaussianAt(1, 1, 0)
	assert.False(t, math.IsNaN(v))
	assert.Less(t, v, NoiseAmplitude)
}

func TestEvaluateEmptyAxes(t *testing.T) {
	f := NewField(singleStructure(1), NewGenerator(10))
	grid := f.Evaluate(Gaussians, nil, []float64{1}, 1)
	assert.True(t, grid.IsEmpty())
}

func TestParseFunctionType(t *testing.T) {
	tests := []struct {
		in      string
		want    FunctionType
		wantErr bool
	}{
		{"Gaussians", Gaussians, false},
		{"lorentzians", Lorentzians, false},
		{" Gaussian ", Gaussians, false},
		{"Voigt", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFunctionType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFunctionType(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFunctionType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
