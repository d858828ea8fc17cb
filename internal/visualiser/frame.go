package visualiser

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/mockscanner/internal/detector"
)

// Frame is one streamed result: the first array of a grab event, flattened
// row-major, with its axes.
type Frame struct {
	GrabID   uuid.UUID
	Detector string
	Name     string
	Label    string
	Index    uint64
	Steps    int
	Total    int
	Aborted  bool
	Final    bool
	Time     time.Time
	Rows     int
	Cols     int
	Values   []float64
	XAxis    []float64
	YAxis    []float64
}

// FrameFromEvent builds a frame from ev. Events without arrays yield an
// empty grid.
func FrameFromEvent(ev detector.GrabEvent) *Frame {
	f := &Frame{
		GrabID:   ev.ID,
		Detector: ev.Detector,
		Index:    ev.Index,
		Steps:    ev.Steps,
		Total:    ev.Total,
		Aborted:  ev.Aborted,
		Final:    ev.Final,
		Time:     ev.Time,
	}
	if len(ev.Data) == 0 {
		return f
	}
	d := ev.Data[0]
	f.Name = d.Name
	if len(d.Labels) > 0 {
		f.Label = d.Labels[0]
	}
	if d.XAxis != nil {
		f.XAxis = d.XAxis.Data
	}
	if d.YAxis != nil {
		f.YAxis = d.YAxis.Data
	}
	if len(d.Data) > 0 && d.Data[0] != nil && !d.Data[0].IsEmpty() {
		m := d.Data[0]
		f.Rows, f.Cols = m.Dims()
		f.Values = make([]float64, 0, f.Rows*f.Cols)
		for i := 0; i < f.Rows; i++ {
			f.Values = append(f.Values, mat.Row(nil, i, m)...)
		}
	}
	return f
}

// Grid returns the values as a matrix, or an empty matrix.
func (f *Frame) Grid() *mat.Dense {
	if f.Rows == 0 || f.Cols == 0 || len(f.Values) != f.Rows*f.Cols {
		return &mat.Dense{}
	}
	return mat.NewDense(f.Rows, f.Cols, f.Values)
}

// ToStruct encodes the frame for the wire.
func (f *Frame) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"grab_id":      structpb.NewStringValue(f.GrabID.String()),
		"detector":     structpb.NewStringValue(f.Detector),
		"name":         structpb.NewStringValue(f.Name),
		"label":        structpb.NewStringValue(f.Label),
		"index":        structpb.NewNumberValue(float64(f.Index)),
		"steps":        structpb.NewNumberValue(float64(f.Steps)),
		"total":        structpb.NewNumberValue(float64(f.Total)),
		"aborted":      structpb.NewBoolValue(f.Aborted),
		"final":        structpb.NewBoolValue(f.Final),
		"time_unix_ns": structpb.NewStringValue(fmt.Sprint(f.Time.UnixNano())),
		"rows":         structpb.NewNumberValue(float64(f.Rows)),
		"cols":         structpb.NewNumberValue(float64(f.Cols)),
		"values":       numberList(f.Values),
		"x_axis":       numberList(f.XAxis),
		"y_axis":       numberList(f.YAxis),
	}}
}

// FrameFromStruct decodes a frame encoded by ToStruct.
func FrameFromStruct(s *structpb.Struct) (*Frame, error) {
	fields := s.GetFields()
	id, err := uuid.Parse(fields["grab_id"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("frame grab_id: %w", err)
	}
	var ns int64
	if _, err := fmt.Sscan(fields["time_unix_ns"].GetStringValue(), &ns); err != nil {
		return nil, fmt.Errorf("frame time_unix_ns: %w", err)
	}
	f := &Frame{
		GrabID:   id,
		Detector: fields["detector"].GetStringValue(),
		Name:     fields["name"].GetStringValue(),
		Label:    fields["label"].GetStringValue(),
		Index:    uint64(fields["index"].GetNumberValue()),
		Steps:    int(fields["steps"].GetNumberValue()),
		Total:    int(fields["total"].GetNumberValue()),
		Aborted:  fields["aborted"].GetBoolValue(),
		Final:    fields["final"].GetBoolValue(),
		Time:     time.Unix(0, ns),
		Rows:     int(fields["rows"].GetNumberValue()),
		Cols:     int(fields["cols"].GetNumberValue()),
		Values:   numbers(fields["values"]),
		XAxis:    numbers(fields["x_axis"]),
		YAxis:    numbers(fields["y_axis"]),
	}
	if len(f.Values) != f.Rows*f.Cols {
		return nil, fmt.Errorf("frame %dx%d carries %d values", f.Rows, f.Cols, len(f.Values))
	}
	return f, nil
}

func numberList(v []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, x := range v {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func numbers(v *structpb.Value) []float64 {
	list := v.GetListValue().GetValues()
	if len(list) == 0 {
		return nil
	}
	out := make([]float64, len(list))
	for i, x := range list {
		out[i] = x.GetNumberValue()
	}
	return out
}
