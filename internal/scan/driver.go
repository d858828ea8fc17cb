package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mockscanner/internal/monitoring"
	"github.com/banshee-data/mockscanner/internal/timeutil"
)

const (
	// DefaultReportEvery is the step cadence of partial-result notifications.
	DefaultReportEvery = 100
	// DefaultPause is how long the default yield hook hands control back.
	DefaultPause = 100 * time.Millisecond
)

// ErrGrabInProgress is returned when Grab is called while another grab on
// the same driver is still running.
var ErrGrabInProgress = errors.New("grab already in progress")

// State is the driver state.
type State int

const (
	// Idle means no scan parameters have been supplied.
	Idle State = iota
	// Scanning means parameters are set and grabs follow their path.
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}

// Evaluator samples the signal at one physical position.
type Evaluator func(x, y float64) float64

// YieldHook is called after each partial-result notification so the caller
// can let other work run. A non-nil error aborts the grab.
type YieldHook func(ctx context.Context) error

// Snapshot is a view of the result grid handed to callbacks. Grid has one
// row per y sample and one column per x sample.
type Snapshot struct {
	Grid    *mat.Dense
	XAxis   []float64
	YAxis   []float64
	Steps   int
	Total   int
	Index   uint64
	Aborted bool
	Final   bool
}

// Callbacks receive results synchronously from the grab loop. Partial
// snapshots carry a copy of the grid; the final snapshot hands the grid over
// to the callee.
type Callbacks struct {
	OnPartial func(Snapshot)
	OnFinal   func(Snapshot)
}

// Config tunes a Driver. Zero values select the defaults.
type Config struct {
	ReportEvery int
	Pause       time.Duration
	Clock       timeutil.Clock
	Yield       YieldHook

	// DefaultXAxis and DefaultYAxis size the grid before any parameters are set.
	DefaultXAxis []float64
	DefaultYAxis []float64
}

// Driver runs grabs along the current Parameters. One grab may be in flight
// at a time; Stop may be called from any goroutine.
type Driver struct {
	reportEvery int
	yield       YieldHook
	callbacks   Callbacks

	mu     sync.Mutex
	params *Parameters
	xAxis  []float64
	yAxis  []float64
	grid   *mat.Dense

	steps   atomic.Int64
	grabs   atomic.Uint64
	stop    atomic.Bool
	running atomic.Bool
}

// NewDriver creates an idle driver.
func NewDriver(cfg Config, cb Callbacks) *Driver {
	every := cfg.ReportEvery
	if every <= 0 {
		every = DefaultReportEvery
	}
	yield := cfg.Yield
	if yield == nil {
		clock := cfg.Clock
		if clock == nil {
			clock = timeutil.RealClock{}
		}
		pause := cfg.Pause
		if pause == 0 {
			pause = DefaultPause
		}
		yield = func(ctx context.Context) error {
			return timeutil.SleepContext(ctx, clock, pause)
		}
	}
	d := &Driver{
		reportEvery: every,
		yield:       yield,
		callbacks:   cb,
		xAxis:       cfg.DefaultXAxis,
		yAxis:       cfg.DefaultYAxis,
	}
	d.grid = zeroGrid(len(d.yAxis), len(d.xAxis))
	return d
}

// SetParameters moves the driver to Scanning, resizing the grid to the new
// axes and resetting the step counter. Invalid parameters are rejected and
// the driver keeps its current state.
func (d *Driver) SetParameters(p *Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = p
	d.xAxis = p.XAxis
	d.yAxis = p.YAxis
	d.grid = zeroGrid(len(p.YAxis), len(p.XAxis))
	d.steps.Store(0)
	monitoring.Debugf("scan parameters set: %dx%d grid, %d steps", len(p.XAxis), len(p.YAxis), p.Steps())
	return nil
}

// State reports Idle until parameters are supplied.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.params == nil {
		return Idle
	}
	return Scanning
}

// Parameters returns the current parameters, or nil when idle.
func (d *Driver) Parameters() *Parameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// Axes returns the current x and y axes.
func (d *Driver) Axes() (x, y []float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.xAxis, d.yAxis
}

// Grid returns a copy of the most recent result grid.
func (d *Driver) Grid() *mat.Dense {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneGrid(d.grid)
}

// Steps returns the number of path steps sampled since parameters were set.
func (d *Driver) Steps() int { return int(d.steps.Load()) }

// GrabCount returns the number of completed (or aborted) grabs.
func (d *Driver) GrabCount() uint64 { return d.grabs.Load() }

// Running reports whether a grab is in flight.
func (d *Driver) Running() bool { return d.running.Load() }

// Stop asks the running grab to end after the current step. The flag is
// cleared at the start of every grab.
func (d *Driver) Stop() { d.stop.Store(true) }

// Grab samples eval along the current path into a fresh zero grid and emits
// the result. Without parameters it emits a zero grid over the current axes.
// The final snapshot is emitted exactly once, including after Stop or ctx
// cancellation, and is also returned.
func (d *Driver) Grab(ctx context.Context, eval Evaluator) (Snapshot, error) {
	if !d.running.CompareAndSwap(false, true) {
		return Snapshot{}, ErrGrabInProgress
	}
	defer d.running.Store(false)
	d.stop.Store(false)

	d.mu.Lock()
	p := d.params
	xAxis, yAxis := d.xAxis, d.yAxis
	grid := zeroGrid(len(yAxis), len(xAxis))
	d.grid = grid
	d.mu.Unlock()

	index := d.grabs.Load() + 1
	snap := Snapshot{Grid: grid, XAxis: xAxis, YAxis: yAxis, Index: index}

	if p != nil {
		snap.Total = p.Steps()
		for step, idx := range p.Path {
			if d.stop.Load() || ctx.Err() != nil {
				snap.Aborted = true
				break
			}
			x, y := xAxis[idx.X()], yAxis[idx.Y()]
			d.setCell(grid, idx, eval(x, y))
			snap.Steps++
			d.steps.Add(1)

			if step%d.reportEvery == 0 {
				d.emitPartial(snap)
				if err := d.yield(ctx); err != nil {
					monitoring.Debugf("grab %d: yield returned %v after %d steps", index, err, snap.Steps)
					snap.Aborted = snap.Steps < snap.Total
					break
				}
			}
		}
	}

	snap.Final = true
	if d.callbacks.OnFinal != nil {
		d.callbacks.OnFinal(snap)
	}
	d.grabs.Store(index)
	monitoring.Debugf("grab %d finished: %d/%d steps aborted=%v", index, snap.Steps, snap.Total, snap.Aborted)
	return snap, nil
}

func (d *Driver) setCell(grid *mat.Dense, idx Index, v float64) {
	d.mu.Lock()
	grid.Set(idx.Y(), idx.X(), v)
	d.mu.Unlock()
}

func (d *Driver) emitPartial(snap Snapshot) {
	if d.callbacks.OnPartial == nil {
		return
	}
	d.mu.Lock()
	snap.Grid = cloneGrid(snap.Grid)
	d.mu.Unlock()
	d.callbacks.OnPartial(snap)
}

func zeroGrid(rows, cols int) *mat.Dense {
	if rows == 0 || cols == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(rows, cols, nil)
}

func cloneGrid(m *mat.Dense) *mat.Dense {
	if m == nil || m.IsEmpty() {
		return &mat.Dense{}
	}
	return mat.DenseCopyOf(m)
}
