// Package scan drives an acquisition path over two axes and accumulates the
// sampled values into a result grid.
package scan

import (
	"errors"
	"fmt"
	"strings"
)

// Index is one step of an acquisition path: an (x-index, y-index) pair into
// the two axes.
type Index [2]int

// X returns the x-axis index.
func (i Index) X() int { return i[0] }

// Y returns the y-axis index.
func (i Index) Y() int { return i[1] }

// Parameters describe an acquisition: the unique coordinate values on each
// axis and the ordered path of index pairs to visit. Parameters are treated
// as read-only once handed to a Driver.
type Parameters struct {
	XAxis []float64 `json:"x_axis"`
	YAxis []float64 `json:"y_axis"`
	Path  []Index   `json:"path"`
}

// ErrEmptyAxis is returned when either axis has no samples.
var ErrEmptyAxis = errors.New("scan axis must not be empty")

// NewParameters validates that every path step indexes into the axes.
func NewParameters(xAxis, yAxis []float64, path []Index) (*Parameters, error) {
	p := &Parameters{XAxis: xAxis, YAxis: yAxis, Path: path}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ErrNoParameters is returned when nil parameters are installed.
var ErrNoParameters = errors.New("scan parameters are nil")

// Validate checks the axes and the path bounds.
func (p *Parameters) Validate() error {
	if p == nil {
		return ErrNoParameters
	}
	if len(p.XAxis) == 0 || len(p.YAxis) == 0 {
		return ErrEmptyAxis
	}
	for step, idx := range p.Path {
		if idx.X() < 0 || idx.X() >= len(p.XAxis) {
			return fmt.Errorf("step %d: x index %d out of range [0,%d)", step, idx.X(), len(p.XAxis))
		}
		if idx.Y() < 0 || idx.Y() >= len(p.YAxis) {
			return fmt.Errorf("step %d: y index %d out of range [0,%d)", step, idx.Y(), len(p.YAxis))
		}
	}
	return nil
}

// Steps returns the number of steps in the path.
func (p *Parameters) Steps() int { return len(p.Path) }

// Position resolves the physical coordinates of a path step.
func (p *Parameters) Position(step int) (x, y float64) {
	idx := p.Path[step]
	return p.XAxis[idx.X()], p.YAxis[idx.Y()]
}

// PathType names a path builder.
type PathType string

const (
	// Raster visits every row left to right.
	Raster PathType = "raster"
	// Snake alternates direction on each row.
	Snake PathType = "snake"
)

// ParsePathType accepts the builder names case-insensitively.
func ParsePathType(s string) (PathType, error) {
	switch PathType(strings.ToLower(strings.TrimSpace(s))) {
	case Raster, "linear":
		return Raster, nil
	case Snake, "back_and_forth":
		return Snake, nil
	default:
		return "", fmt.Errorf("unknown scan path type %q: expected raster or snake", s)
	}
}

// Build returns parameters visiting every cell of the x/y grid in the order
// given by t.
func Build(t PathType, xAxis, yAxis []float64) (*Parameters, error) {
	if len(xAxis) == 0 || len(yAxis) == 0 {
		return nil, ErrEmptyAxis
	}
	switch t {
	case Raster:
		return NewRaster(xAxis, yAxis), nil
	case Snake:
		return NewSnake(xAxis, yAxis), nil
	default:
		return nil, fmt.Errorf("unknown scan path type %q", t)
	}
}

// NewRaster visits the grid row by row, x increasing within each row.
func NewRaster(xAxis, yAxis []float64) *Parameters {
	path := make([]Index, 0, len(xAxis)*len(yAxis))
	for iy := range yAxis {
		for ix := range xAxis {
			path = append(path, Index{ix, iy})
		}
	}
	return &Parameters{XAxis: xAxis, YAxis: yAxis, Path: path}
}

// NewSnake visits the grid row by row, reversing x direction on odd rows.
func NewSnake(xAxis, yAxis []float64) *Parameters {
	nx := len(xAxis)
	path := make([]Index, 0, nx*len(yAxis))
	for iy := range yAxis {
		for k := 0; k < nx; k++ {
			ix := k
			if iy%2 == 1 {
				ix = nx - 1 - k
			}
			path = append(path, Index{ix, iy})
		}
	}
	return &Parameters{XAxis: xAxis, YAxis: yAxis, Path: path}
}
