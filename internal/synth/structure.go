package synth

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultStructureCount is the number of structures in the process table.
	DefaultStructureCount = 10
	// DefaultAxisPoints is the number of samples on each default axis.
	DefaultAxisPoints = 256

	maxWidth     = 1.0
	maxAmplitude = 10.0
	maxSlope     = 0.1
)

// Structure is one synthetic 2D feature contributing to a field.
type Structure struct {
	CenterX   float64 `json:"center_x"`
	CenterY   float64 `json:"center_y"`
	WidthX    float64 `json:"width_x"`
	WidthY    float64 `json:"width_y"`
	Amplitude float64 `json:"amplitude"`
	Slope     float64 `json:"slope"`
}

// TableConfig bounds the draw of a structure table.
type TableConfig struct {
	Count int
	XMin  float64
	XMax  float64
	YMin  float64
	YMax  float64
}

// DefaultTableConfig returns ten structures over the [-5, 5] square.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		Count: DefaultStructureCount,
		XMin:  -5,
		XMax:  5,
		YMin:  -5,
		YMax:  5,
	}
}

// Validate checks the count and that the domain is not empty.
func (c TableConfig) Validate() error {
	if c.Count < 0 {
		return fmt.Errorf("structure count must be non-negative, got %d", c.Count)
	}
	if !(c.XMax > c.XMin) {
		return fmt.Errorf("empty x domain [%g, %g]", c.XMin, c.XMax)
	}
	if !(c.YMax > c.YMin) {
		return fmt.Errorf("empty y domain [%g, %g]", c.YMin, c.YMax)
	}
	return nil
}

// Axes returns n evenly spaced samples spanning the x and y domains.
func (c TableConfig) Axes(n int) (x, y []float64) {
	return Linspace(c.XMin, c.XMax, n), Linspace(c.YMin, c.YMax, n)
}

// Table is an immutable set of structures.
type Table struct {
	structures []Structure
}

// NewTable draws cfg.Count structures from g. Each parameter is drawn for
// every structure before moving to the next parameter, so a given seed always
// yields the same centres regardless of later parameters.
func NewTable(g *Generator, cfg TableConfig) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.Count
	cx := make([]float64, n)
	cy := make([]float64, n)
	wx := make([]float64, n)
	wy := make([]float64, n)
	amp := make([]float64, n)
	slope := make([]float64, n)

	g.fill(cx, cfg.XMax-cfg.XMin)
	floats.AddConst(cfg.XMin, cx)
	g.fill(cy, cfg.YMax-cfg.YMin)
	floats.AddConst(cfg.YMin, cy)
	g.fill(wx, maxWidth)
	g.fill(wy, maxWidth)
	g.fill(amp, maxAmplitude)
	g.fill(slope, maxSlope)

	structures := make([]Structure, n)
	for i := range structures {
		structures[i] = Structure{
			CenterX:   cx[i],
			CenterY:   cy[i],
			WidthX:    wx[i],
			WidthY:    wy[i],
			Amplitude: amp[i],
			Slope:     slope[i],
		}
	}
	return &Table{structures: structures}, nil
}

// NewTableFromStructures builds a table from fixed structures.
func NewTableFromStructures(structures ...Structure) *Table {
	return &Table{structures: append([]Structure(nil), structures...)}
}

// Len returns the number of structures.
func (t *Table) Len() int { return len(t.structures) }

// At returns structure i.
func (t *Table) At(i int) Structure { return t.structures[i] }

// Structures returns a copy of the table contents.
func (t *Table) Structures() []Structure {
	return append([]Structure(nil), t.structures...)
}

var (
	defaultTableOnce sync.Once
	defaultTable     *Table
)

// DefaultTable returns the process-wide table, drawn once from a time-seeded
// generator on first use.
func DefaultTable() *Table {
	defaultTableOnce.Do(func() {
		t, err := NewTable(NewTimeSeededGenerator(), DefaultTableConfig())
		if err != nil {
			// DefaultTableConfig always validates.
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// Linspace returns n evenly spaced samples over [lo, hi]. n == 1 yields lo.
func Linspace(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}
