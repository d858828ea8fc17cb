package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mockscanner/internal/detector"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.json", `{"wait_time": 100}`)
	initial, err := Load(path)
	require.NoError(t, err)

	got := make(chan []detector.Setting, 4)
	w := NewWatcher(path, initial, func(changes []detector.Setting, _ *Settings) {
		got <- changes
	})
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// An unrelated file in the same directory is ignored. Writes are retried
	// because the watch may not be registered yet.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644))

	var changes []detector.Setting
	deadline := time.After(5 * time.Second)
	for changes == nil {
		require.NoError(t, os.WriteFile(path, []byte(`{"wait_time": 400, "show_scanner": true}`), 0o644))
		select {
		case changes = <-got:
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	assert.Equal(t, []detector.Setting{
		{Name: detector.SettingWaitTime, Value: 400},
		{Name: detector.SettingShowScanner, Value: true},
	}, changes)
	assert.Equal(t, 400, *w.Current().WaitTimeMs)
}

func TestWatcher_KeepsPreviousOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.yaml", "wait_time: 100\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w := NewWatcher(path, initial, nil)
	require.NoError(t, os.WriteFile(path, []byte("wait_time: -5\n"), 0o644))
	w.reload()
	assert.Same(t, initial, w.Current())
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope", "settings.json"), nil, nil)
	assert.Error(t, w.Run(context.Background()))
}
