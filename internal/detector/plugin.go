package detector

import (
	"context"
	"errors"

	"github.com/banshee-data/mockscanner/internal/scan"
)

// ErrNoController is returned by Initialize when a Slave detector is given no
// controller to share.
var ErrNoController = errors.New("no controller has been defined externally while this detector is a slave one")

// Status is returned by Initialize.
type Status struct {
	Initialized bool   `json:"initialized"`
	Info        string `json:"info,omitempty"`
	XAxis       *Axis  `json:"x_axis,omitempty"`
	YAxis       *Axis  `json:"y_axis,omitempty"`
	Controller  any    `json:"controller,omitempty"`
}

// Detector is the lifecycle a host drives a plugin through.
type Detector interface {
	// Name identifies the detector in emitted payloads.
	Name() string
	// Initialize prepares the detector and reports its axes.
	Initialize(controller any) (*Status, error)
	// Grab acquires one result and emits it to the detector's listener.
	Grab(ctx context.Context, naverage int) error
	// Stop requests that an in-flight grab end early.
	Stop() string
	// CommitSetting applies one setting change.
	CommitSetting(s Setting) (*ThreadCommand, error)
	// Close releases resources.
	Close() error
}

// Scanner is a Detector that samples along externally supplied scan
// parameters.
type Scanner interface {
	Detector
	UpdateScanner(p *scan.Parameters)
}

func emitStatus(l Listener, cmd *ThreadCommand) {
	if cmd == nil {
		return
	}
	if sl, ok := l.(StatusListener); ok {
		sl.OnStatus(*cmd)
	}
}
