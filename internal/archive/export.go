package archive

import (
	"context"
	"io"
	"math"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
)

// CellRecord is one exported grid cell. X and Y are NaN when the array has
// no matching axis.
type CellRecord struct {
	Array int     `csv:"array"`
	Name  string  `csv:"name"`
	Row   int     `csv:"row"`
	Col   int     `csv:"col"`
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Value float64 `csv:"value"`
}

// Cells flattens a stored grab into one record per cell, row-major.
func (a *Archive) Cells(ctx context.Context, id uuid.UUID) ([]*CellRecord, error) {
	ev, err := a.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []*CellRecord
	for k, d := range ev.Data {
		m := d.Data[0]
		if m.IsEmpty() {
			continue
		}
		rows, cols := m.Dims()
		for i := 0; i < rows; i++ {
			y := math.NaN()
			if d.YAxis.Len() == rows {
				y = d.YAxis.Data[i]
			}
			for j := 0; j < cols; j++ {
				x := math.NaN()
				if d.XAxis.Len() == cols {
					x = d.XAxis.Data[j]
				}
				out = append(out, &CellRecord{
					Array: k,
					Name:  d.Name,
					Row:   i,
					Col:   j,
					X:     x,
					Y:     y,
					Value: m.At(i, j),
				})
			}
		}
	}
	return out, nil
}

// ExportCSV writes the cells of a stored grab as CSV with a header row.
func (a *Archive) ExportCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	cells, err := a.Cells(ctx, id)
	if err != nil {
		return err
	}
	return gocsv.Marshal(cells, w)
}
