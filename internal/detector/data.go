// Package detector defines the plugin contract shared by the mock scanner and
// the remote TCP detector, and the data payload both emit.
package detector

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Dimensionality labels carried by DataFromPlugins.
const (
	Data0D = "Data0D"
	Data1D = "Data1D"
	Data2D = "Data2D"
)

// Axis describes the coordinates along one dimension of a payload.
type Axis struct {
	Label string    `json:"label,omitempty"`
	Units string    `json:"units,omitempty"`
	Data  []float64 `json:"data"`
}

// NewAxis wraps coordinate data; nil data yields a nil axis.
func NewAxis(label string, data []float64) *Axis {
	if data == nil {
		return nil
	}
	return &Axis{Label: label, Data: data}
}

// Len returns the number of samples, zero for a nil axis.
func (a *Axis) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// DataFromPlugins is one named, typed payload of value arrays and optional
// axes, as consumed by the display layer.
type DataFromPlugins struct {
	Name   string
	Dim    string
	Labels []string
	Data   []*mat.Dense
	XAxis  *Axis
	YAxis  *Axis
}

type dataJSON struct {
	Name   string        `json:"name"`
	Dim    string        `json:"dim"`
	Labels []string      `json:"labels,omitempty"`
	Data   [][][]float64 `json:"data"`
	XAxis  *Axis         `json:"x_axis,omitempty"`
	YAxis  *Axis         `json:"y_axis,omitempty"`
}

// MarshalJSON encodes each array as a list of rows.
func (d DataFromPlugins) MarshalJSON() ([]byte, error) {
	out := dataJSON{
		Name:   d.Name,
		Dim:    d.Dim,
		Labels: d.Labels,
		Data:   make([][][]float64, len(d.Data)),
		XAxis:  d.XAxis,
		YAxis:  d.YAxis,
	}
	for k, m := range d.Data {
		out.Data[k] = Rows(m)
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *DataFromPlugins) UnmarshalJSON(b []byte) error {
	var in dataJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	d.Name, d.Dim, d.Labels = in.Name, in.Dim, in.Labels
	d.XAxis, d.YAxis = in.XAxis, in.YAxis
	d.Data = make([]*mat.Dense, len(in.Data))
	for k, rows := range in.Data {
		d.Data[k] = FromRows(rows)
	}
	return nil
}

// Rows copies m into a slice of rows.
func Rows(m *mat.Dense) [][]float64 {
	if m == nil || m.IsEmpty() {
		return [][]float64{}
	}
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	return rows
}

// FromRows builds a matrix from equal-length rows. Ragged or empty input
// yields an empty matrix.
func FromRows(rows [][]float64) *mat.Dense {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return &mat.Dense{}
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, row := range rows {
		if len(row) != cols {
			return &mat.Dense{}
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data)
}

// GrabEvent wraps the payloads emitted by one partial or final result.
type GrabEvent struct {
	ID       uuid.UUID         `json:"id"`
	Detector string            `json:"detector"`
	Index    uint64            `json:"index"`
	Steps    int               `json:"steps"`
	Total    int               `json:"total"`
	Aborted  bool              `json:"aborted"`
	Final    bool              `json:"final"`
	Time     time.Time         `json:"time"`
	Data     []DataFromPlugins `json:"data"`
}

// Listener receives results from a detector. Calls are synchronous with the
// grab loop, so implementations must not block for long.
type Listener interface {
	OnPartialResult(ev GrabEvent)
	OnFinalResult(ev GrabEvent)
}

// StatusListener is optionally implemented by listeners that want the
// detector's status commands.
type StatusListener interface {
	OnStatus(cmd ThreadCommand)
}

// ListenerFuncs adapts plain functions to Listener and StatusListener. Nil
// fields are skipped.
type ListenerFuncs struct {
	Partial func(GrabEvent)
	Final   func(GrabEvent)
	Status  func(ThreadCommand)
}

func (f ListenerFuncs) OnPartialResult(ev GrabEvent) {
	if f.Partial != nil {
		f.Partial(ev)
	}
}

func (f ListenerFuncs) OnFinalResult(ev GrabEvent) {
	if f.Final != nil {
		f.Final(ev)
	}
}

func (f ListenerFuncs) OnStatus(cmd ThreadCommand) {
	if f.Status != nil {
		f.Status(cmd)
	}
}

// MultiListener fans every call out to each listener in order.
type MultiListener []Listener

func (m MultiListener) OnPartialResult(ev GrabEvent) {
	for _, l := range m {
		l.OnPartialResult(ev)
	}
}

func (m MultiListener) OnFinalResult(ev GrabEvent) {
	for _, l := range m {
		l.OnFinalResult(ev)
	}
}

func (m MultiListener) OnStatus(cmd ThreadCommand) {
	for _, l := range m {
		if sl, ok := l.(StatusListener); ok {
			sl.OnStatus(cmd)
		}
	}
}

// Latest caches the most recent partial and final events.
type Latest struct {
	mu      sync.RWMutex
	partial *GrabEvent
	final   *GrabEvent
}

func (l *Latest) OnPartialResult(ev GrabEvent) {
	l.mu.Lock()
	l.partial = &ev
	l.mu.Unlock()
}

func (l *Latest) OnFinalResult(ev GrabEvent) {
	l.mu.Lock()
	l.final = &ev
	l.partial = nil
	l.mu.Unlock()
}

// Current returns the newest event: an in-flight partial if one arrived
// after the last final, otherwise the last final.
func (l *Latest) Current() (GrabEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch {
	case l.partial != nil:
		return *l.partial, true
	case l.final != nil:
		return *l.final, true
	}
	return GrabEvent{}, false
}

// Final returns the last final event.
func (l *Latest) Final() (GrabEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.final == nil {
		return GrabEvent{}, false
	}
	return *l.final, true
}
