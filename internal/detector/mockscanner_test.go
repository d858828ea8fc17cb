package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mockscanner/internal/scan"
	"github.com/banshee-data/mockscanner/internal/synth"
	"github.com/banshee-data/mockscanner/internal/timeutil"
)

type recorder struct {
	mu       sync.Mutex
	partials []GrabEvent
	finals   []GrabEvent
	status   []ThreadCommand
}

func (r *recorder) OnPartialResult(ev GrabEvent) {
	r.mu.Lock()
	r.partials = append(r.partials, ev)
	r.mu.Unlock()
}

func (r *recorder) OnFinalResult(ev GrabEvent) {
	r.mu.Lock()
	r.finals = append(r.finals, ev)
	r.mu.Unlock()
}

func (r *recorder) OnStatus(cmd ThreadCommand) {
	r.mu.Lock()
	r.status = append(r.status, cmd)
	r.mu.Unlock()
}

func noYield(context.Context) error { return nil }

func newTestScanner(t *testing.T, l Listener, settings *Settings) *MockScanner {
	t.Helper()
	table := synth.NewTableFromStructures(synth.Structure{
		CenterX: 0, CenterY: 0, WidthX: 1, WidthY: 1, Amplitude: 5, Slope: 0.05,
	})
	return NewMockScanner(MockScannerConfig{
		Table:      table,
		Noise:      synth.NewGenerator(7),
		Settings:   settings,
		AxisPoints: 8,
		Driver:     scan.Config{Yield: noYield},
		Clock:      timeutil.NewMockClock(time.Unix(1700000000, 0)),
	}, l)
}

func TestMockScanner_InitializeMaster(t *testing.T) {
	rec := &recorder{}
	m := newTestScanner(t, rec, nil)

	st, err := m.Initialize(nil)
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	assert.Equal(t, MockControllerName, st.Controller)
	assert.Equal(t, 8, st.XAxis.Len())
	assert.Equal(t, 8, st.YAxis.Len())

	require.Len(t, rec.status, 1)
	assert.Equal(t, CommandUpdateMainSettings, rec.status[0].Command)
	assert.Equal(t, []any{[]string{SettingWaitTime}, 100, "value"}, rec.status[0].Attributes)

	require.Len(t, rec.partials, 1)
	preview := rec.partials[0].Data[0]
	assert.Equal(t, []string{PreviewLabel}, preview.Labels)
	assert.Equal(t, Data2D, preview.Dim)
	r, c := preview.Data[0].Dims()
	assert.Equal(t, 8, r)
	assert.Equal(t, 8, c)
	assert.Empty(t, rec.finals)
}

func TestMockScanner_InitializeSlave(t *testing.T) {
	s := DefaultSettings()
	s.ControllerStatus = Slave

	m := newTestScanner(t, &recorder{}, &s)
	_, err := m.Initialize(nil)
	assert.True(t, errors.Is(err, ErrNoController))

	shared := struct{ name string }{"shared"}
	st, err := m.Initialize(shared)
	require.NoError(t, err)
	assert.Equal(t, shared, st.Controller)
}

func TestMockScanner_GrabAlongRaster(t *testing.T) {
	rec := &recorder{}
	m := newTestScanner(t, rec, nil)
	m.UpdateScanner(scan.NewRaster([]float64{-1, 0, 1}, []float64{-1, 1}))

	require.NoError(t, m.Grab(context.Background(), 1))
	require.Len(t, rec.finals, 1)
	ev := rec.finals[0]
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, MockScannerName, ev.Detector)
	assert.Equal(t, uint64(1), ev.Index)
	assert.Equal(t, 6, ev.Steps)
	assert.Equal(t, 6, ev.Total)
	assert.True(t, ev.Final)
	assert.False(t, ev.Aborted)

	grid := ev.Data[0].Data[0]
	r, c := grid.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	// The structure sits at the origin, so the middle column is the brightest.
	assert.Greater(t, grid.At(0, 1), grid.At(0, 0))

	for _, p := range rec.partials {
		assert.Equal(t, ev.ID, p.ID)
	}

	require.NoError(t, m.Grab(context.Background(), 1))
	require.Len(t, rec.finals, 2)
	assert.NotEqual(t, ev.ID, rec.finals[1].ID)
	assert.Equal(t, uint64(2), rec.finals[1].Index)
}

func TestMockScanner_NaverageKeepsNoiseRange(t *testing.T) {
	rec := &recorder{}
	table := synth.NewTableFromStructures(synth.Structure{WidthX: 1, WidthY: 1})
	m := NewMockScanner(MockScannerConfig{
		Table:      table,
		Noise:      synth.NewGenerator(3),
		AxisPoints: 4,
		Driver:     scan.Config{Yield: noYield},
	}, rec)
	m.UpdateScanner(scan.NewSnake([]float64{0, 1}, []float64{0, 1}))

	require.NoError(t, m.Grab(context.Background(), 5))
	grid := rec.finals[0].Data[0].Data[0]
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			v := grid.At(i, j)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, synth.NoiseAmplitude)
		}
	}
}

func TestMockScanner_GrabWithoutParametersEmitsZeroGrid(t *testing.T) {
	rec := &recorder{}
	m := newTestScanner(t, rec, nil)

	require.NoError(t, m.Grab(context.Background(), 0))
	require.Len(t, rec.finals, 1)
	grid := rec.finals[0].Data[0].Data[0]
	r, c := grid.Dims()
	assert.Equal(t, 8, r)
	assert.Equal(t, 8, c)
	for _, row := range Rows(grid) {
		for _, v := range row {
			assert.Zero(t, v)
		}
	}
}

func TestMockScanner_ReentrantGrabRejected(t *testing.T) {
	var m *MockScanner
	var inner error
	m = newTestScanner(t, ListenerFuncs{
		Partial: func(GrabEvent) { inner = m.Grab(context.Background(), 1) },
	}, nil)
	m.UpdateScanner(scan.NewRaster([]float64{0}, []float64{0}))

	require.NoError(t, m.Grab(context.Background(), 1))
	assert.True(t, errors.Is(inner, scan.ErrGrabInProgress))
}

func TestMockScanner_UpdateScannerIgnoresInvalidParameters(t *testing.T) {
	m := newTestScanner(t, nil, nil)
	assert.NotPanics(t, func() { m.UpdateScanner(nil) })
	assert.Equal(t, scan.Idle, m.Driver().State())

	m.UpdateScanner(scan.NewRaster([]float64{0, 1}, []float64{0}))
	m.UpdateScanner(&scan.Parameters{XAxis: []float64{0}, YAxis: []float64{0}, Path: []scan.Index{{3, 0}}})
	assert.Equal(t, 2, m.Driver().Parameters().Steps())
}

func TestMockScanner_StopReturnsEmptyMessage(t *testing.T) {
	m := newTestScanner(t, nil, nil)
	assert.Equal(t, "", m.Stop())
	assert.NoError(t, m.Close())
}

func TestMockScanner_CommitSetting(t *testing.T) {
	rec := &recorder{}
	m := newTestScanner(t, rec, nil)

	cmd, err := m.CommitSetting(Setting{Name: SettingWaitTime, Value: 250.0})
	require.NoError(t, err)
	assert.Equal(t, CommandUpdateMainSettings, cmd.Command)
	assert.Equal(t, []any{[]string{SettingWaitTime}, 250, "value"}, cmd.Attributes)
	assert.Equal(t, 250, m.Settings().WaitTimeMs)

	cmd, err = m.CommitSetting(Setting{Name: SettingShowScanner, Value: true})
	require.NoError(t, err)
	assert.Equal(t, ThreadCommand{Command: CommandShowScanner, Attributes: []any{true}}, *cmd)

	cmd, err = m.CommitSetting(Setting{Name: SettingShowNavigator, Value: "false"})
	require.NoError(t, err)
	assert.Equal(t, CommandShowNavigator, cmd.Command)

	cmd, err = m.CommitSetting(Setting{Name: SettingFunType, Value: "lorentzians"})
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, synth.Lorentzians, m.Settings().FunType)

	_, err = m.CommitSetting(Setting{Name: SettingWidthCoeff, Value: 2})
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Settings().WidthCoeff)

	assert.Len(t, rec.status, 3)

	_, err = m.CommitSetting(Setting{Name: "exposure", Value: 1})
	assert.True(t, errors.Is(err, ErrUnknownSetting))

	_, err = m.CommitSetting(Setting{Name: SettingWaitTime, Value: -1})
	assert.Error(t, err)
	_, err = m.CommitSetting(Setting{Name: SettingWaitTime, Value: 1.5})
	assert.Error(t, err)
	_, err = m.CommitSetting(Setting{Name: SettingShowScanner, Value: 3})
	assert.Error(t, err)
	_, err = m.CommitSetting(Setting{Name: SettingFunType, Value: "voigt"})
	assert.Error(t, err)
	_, err = m.CommitSetting(Setting{Name: SettingControllerStatus, Value: "Peer"})
	assert.Error(t, err)
	assert.Equal(t, 250, m.Settings().WaitTimeMs)
}

func TestMockScanner_GrabLoopWaitsBetweenGrabs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	finals := 0
	m := NewMockScanner(MockScannerConfig{
		Table:      synth.NewTableFromStructures(synth.Structure{WidthX: 1, WidthY: 1, Amplitude: 1}),
		Noise:      synth.NewGenerator(1),
		AxisPoints: 2,
		Driver:     scan.Config{Yield: noYield},
		Clock:      clock,
	}, ListenerFuncs{Final: func(GrabEvent) {
		finals++
		if finals == 3 {
			cancel()
		}
	}})
	m.UpdateScanner(scan.NewRaster([]float64{0, 1}, []float64{0}))
	_, err := m.CommitSetting(Setting{Name: SettingWaitTime, Value: 20})
	require.NoError(t, err)

	require.NoError(t, m.GrabLoop(ctx, 1))
	assert.Equal(t, 3, finals)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}, clock.Sleeps())
}
