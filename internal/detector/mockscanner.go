package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mockscanner/internal/monitoring"
	"github.com/banshee-data/mockscanner/internal/scan"
	"github.com/banshee-data/mockscanner/internal/synth"
	"github.com/banshee-data/mockscanner/internal/timeutil"
)

const (
	// MockScannerName tags every payload the mock scanner emits.
	MockScannerName = "MockScanner"
	// PreviewLabel labels the preview emitted by Initialize.
	PreviewLabel = "RandomGaussians"
	// MockControllerName is reported when the scanner owns its controller.
	MockControllerName = "Mock controller"
)

// MockScannerConfig configures NewMockScanner. Zero values select defaults.
type MockScannerConfig struct {
	// Table defaults to synth.DefaultTable.
	Table *synth.Table
	// Noise defaults to a time-seeded generator.
	Noise *synth.Generator
	// Settings defaults to DefaultSettings.
	Settings *Settings
	// AxisPoints is the length of the default axes (synth.DefaultAxisPoints).
	AxisPoints int
	// Domain bounds the default axes.
	Domain *synth.TableConfig
	// Driver tunes the scan driver. Its default axes are overwritten.
	Driver scan.Config
	// Clock stamps events and paces GrabLoop.
	Clock timeutil.Clock
}

// MockScanner is a 2D detector that samples a synthetic field along scan
// parameters supplied by the host.
type MockScanner struct {
	listener Listener
	field    *synth.Field
	driver   *scan.Driver
	clock    timeutil.Clock
	xDefault []float64
	yDefault []float64

	mu          sync.Mutex
	settings    Settings
	controller  any
	initialized bool
	grabID      uuid.UUID

	grabbing atomic.Bool
}

var _ Scanner = (*MockScanner)(nil)

// NewMockScanner builds a scanner that reports to l. l may be nil.
func NewMockScanner(cfg MockScannerConfig, l Listener) *MockScanner {
	if l == nil {
		l = ListenerFuncs{}
	}
	table := cfg.Table
	if table == nil {
		table = synth.DefaultTable()
	}
	noise := cfg.Noise
	if noise == nil {
		noise = synth.NewTimeSeededGenerator()
	}
	settings := DefaultSettings()
	if cfg.Settings != nil {
		settings = *cfg.Settings
	}
	points := cfg.AxisPoints
	if points <= 0 {
		points = synth.DefaultAxisPoints
	}
	domain := synth.DefaultTableConfig()
	if cfg.Domain != nil {
		domain = *cfg.Domain
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	m := &MockScanner{
		listener: l,
		field:    synth.NewField(table, noise),
		clock:    clock,
		settings: settings,
	}
	m.xDefault, m.yDefault = domain.Axes(points)

	dcfg := cfg.Driver
	dcfg.DefaultXAxis, dcfg.DefaultYAxis = m.xDefault, m.yDefault
	if dcfg.Clock == nil {
		dcfg.Clock = clock
	}
	m.driver = scan.NewDriver(dcfg, scan.Callbacks{
		OnPartial: func(s scan.Snapshot) { m.listener.OnPartialResult(m.event(s)) },
		OnFinal:   func(s scan.Snapshot) { m.listener.OnFinalResult(m.event(s)) },
	})
	return m
}

func (m *MockScanner) Name() string { return MockScannerName }

// Driver exposes the underlying scan driver.
func (m *MockScanner) Driver() *scan.Driver { return m.driver }

// Settings returns a copy of the current settings.
func (m *MockScanner) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Initialize prepares the scanner. A Slave scanner must be handed the
// controller of its master; a Master scanner creates its own. On success it
// publishes the wait time and a preview of the whole field over the default
// axes.
func (m *MockScanner) Initialize(controller any) (*Status, error) {
	m.mu.Lock()
	st := m.settings
	if st.ControllerStatus == Slave {
		if controller == nil {
			m.mu.Unlock()
			return nil, ErrNoController
		}
		m.controller = controller
	} else {
		m.controller = MockControllerName
	}
	m.initialized = true
	ctrl := m.controller
	m.mu.Unlock()

	emitStatus(m.listener, &ThreadCommand{
		Command:    CommandUpdateMainSettings,
		Attributes: []any{[]string{SettingWaitTime}, st.WaitTimeMs, "value"},
	})

	preview := m.field.Evaluate(st.FunType, m.xDefault, m.yDefault, st.WidthCoeff)
	m.listener.OnPartialResult(GrabEvent{
		ID:       uuid.New(),
		Detector: MockScannerName,
		Total:    len(m.xDefault) * len(m.yDefault),
		Steps:    len(m.xDefault) * len(m.yDefault),
		Time:     m.clock.Now(),
		Data: []DataFromPlugins{{
			Name:   MockScannerName,
			Dim:    Data2D,
			Labels: []string{PreviewLabel},
			Data:   []*mat.Dense{preview},
			XAxis:  NewAxis("x", m.xDefault),
			YAxis:  NewAxis("y", m.yDefault),
		}},
	})

	monitoring.Logf("mock scanner initialised (%s, controller %v)", st.ControllerStatus, ctrl)
	return &Status{
		Initialized: true,
		XAxis:       NewAxis("x", m.xDefault),
		YAxis:       NewAxis("y", m.yDefault),
		Controller:  ctrl,
	}, nil
}

// UpdateScanner installs new scan parameters. Invalid parameters are logged
// and the previous ones stay in place.
func (m *MockScanner) UpdateScanner(p *scan.Parameters) {
	if err := m.driver.SetParameters(p); err != nil {
		monitoring.Logf("mock scanner: ignoring scan parameters: %v", err)
	}
}

// Grab samples the field along the current path. Each point is the mean of
// naverage evaluations; values below one count as one.
func (m *MockScanner) Grab(ctx context.Context, naverage int) error {
	if !m.grabbing.CompareAndSwap(false, true) {
		return scan.ErrGrabInProgress
	}
	defer m.grabbing.Store(false)

	if naverage < 1 {
		naverage = 1
	}
	m.mu.Lock()
	st := m.settings
	m.grabID = uuid.New()
	m.mu.Unlock()

	eval := func(x, y float64) float64 {
		var sum float64
		for range naverage {
			sum += m.field.EvaluateAt(st.FunType, x, y, st.WidthCoeff)
		}
		return sum / float64(naverage)
	}
	if _, err := m.driver.Grab(ctx, eval); err != nil {
		return fmt.Errorf("mock scanner grab: %w", err)
	}
	return nil
}

// GrabLoop grabs repeatedly, waiting wait_time between grabs, until ctx is
// cancelled. It returns nil on cancellation.
func (m *MockScanner) GrabLoop(ctx context.Context, naverage int) error {
	for {
		if err := m.Grab(ctx, naverage); err != nil {
			return err
		}
		wait := time.Duration(m.Settings().WaitTimeMs) * time.Millisecond
		if err := timeutil.SleepContext(ctx, m.clock, wait); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Stop asks the running grab to finish early. The returned message is empty.
func (m *MockScanner) Stop() string {
	m.driver.Stop()
	return ""
}

// CommitSetting applies one setting. Function type and coefficient take
// effect on the next grab.
func (m *MockScanner) CommitSetting(s Setting) (*ThreadCommand, error) {
	m.mu.Lock()
	cmd, err := m.settings.apply(s)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	emitStatus(m.listener, cmd)
	return cmd, nil
}

// Close stops any running grab.
func (m *MockScanner) Close() error {
	m.driver.Stop()
	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

func (m *MockScanner) event(s scan.Snapshot) GrabEvent {
	m.mu.Lock()
	id := m.grabID
	m.mu.Unlock()
	return GrabEvent{
		ID:       id,
		Detector: MockScannerName,
		Index:    s.Index,
		Steps:    s.Steps,
		Total:    s.Total,
		Aborted:  s.Aborted,
		Final:    s.Final,
		Time:     m.clock.Now(),
		Data: []DataFromPlugins{{
			Name:  MockScannerName,
			Dim:   Data2D,
			Data:  []*mat.Dense{s.Grid},
			XAxis: NewAxis("x", s.XAxis),
			YAxis: NewAxis("y", s.YAxis),
		}},
	}
}
