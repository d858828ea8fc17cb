package main

import (
	"context"
	"fmt"

	"github.com/banshee-data/mockscanner/internal/config"
	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/scan"
	"github.com/banshee-data/mockscanner/internal/synth"
)

// newScanner builds a mock scanner from settings. A configured seed makes
// the structure table and the noise reproducible.
func newScanner(cfg *config.Settings, l detector.Listener) (*detector.MockScanner, error) {
	table := synth.DefaultTable()
	noise := synth.NewTimeSeededGenerator()
	if seed, ok := cfg.GetSeed(); ok {
		t, err := synth.NewTable(synth.NewGenerator(seed), synth.DefaultTableConfig())
		if err != nil {
			return nil, fmt.Errorf("structure table: %w", err)
		}
		table = t
		noise = synth.NewGenerator(seed + 1)
	}

	driver := scan.Config{
		ReportEvery: cfg.GetReportEvery(),
		Pause:       cfg.GetPause(),
	}
	if cfg.Pause != nil && driver.Pause == 0 {
		driver.Yield = func(ctx context.Context) error { return ctx.Err() }
	}

	settings := cfg.DetectorSettings()
	return detector.NewMockScanner(detector.MockScannerConfig{
		Table:      table,
		Noise:      noise,
		Settings:   &settings,
		AxisPoints: cfg.GetAxisPoints(),
		Driver:     driver,
	}, l), nil
}

// scanParameters covers the structure domain with a square grid of
// scan_points per side.
func scanParameters(cfg *config.Settings, points int) (*scan.Parameters, error) {
	if points <= 0 {
		points = cfg.GetScanPoints()
	}
	x, y := synth.DefaultTableConfig().Axes(points)
	return scan.Build(cfg.GetScanPath(), x, y)
}

// logStatus reports detector status commands.
func logStatus(logf func(string, ...any)) detector.Listener {
	return detector.ListenerFuncs{
		Status: func(cmd detector.ThreadCommand) {
			logf("detector status: %s %v", cmd.Command, cmd.Attributes)
		},
	}
}
