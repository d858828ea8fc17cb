// Package config loads the mock scanner's settings file and watches it for
// changes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/scan"
	"github.com/banshee-data/mockscanner/internal/synth"
)

// maxFileSize bounds the settings file.
const maxFileSize = 1 * 1024 * 1024

// Settings is the on-disk configuration. Every field is optional; the Get*
// methods supply defaults for omitted fields, so partial files are safe.
type Settings struct {
	// Detector settings, applied through CommitSetting.
	ControllerStatus *string  `json:"controller_status,omitempty" yaml:"controller_status,omitempty"`
	WaitTimeMs       *int     `json:"wait_time,omitempty" yaml:"wait_time,omitempty"`
	ShowScanner      *bool    `json:"show_scanner,omitempty" yaml:"show_scanner,omitempty"`
	ShowNavigator    *bool    `json:"show_navigator,omitempty" yaml:"show_navigator,omitempty"`
	FunType          *string  `json:"fun_type,omitempty" yaml:"fun_type,omitempty"`
	WidthCoeff       *float64 `json:"width_coeff,omitempty" yaml:"width_coeff,omitempty"`

	// Field and scan driver.
	Seed        *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
	AxisPoints  *int    `json:"axis_points,omitempty" yaml:"axis_points,omitempty"`
	ReportEvery *int    `json:"report_every,omitempty" yaml:"report_every,omitempty"`
	Pause       *string `json:"pause,omitempty" yaml:"pause,omitempty"` // duration string like "100ms"
	ScanPath    *string `json:"scan_path,omitempty" yaml:"scan_path,omitempty"`
	ScanPoints  *int    `json:"scan_points,omitempty" yaml:"scan_points,omitempty"`
	NAverage    *int    `json:"naverage,omitempty" yaml:"naverage,omitempty"`

	// Services.
	HTTPAddr       *string `json:"http_addr,omitempty" yaml:"http_addr,omitempty"`
	RemoteAddr     *string `json:"remote_addr,omitempty" yaml:"remote_addr,omitempty"`
	VisualiserAddr *string `json:"visualiser_addr,omitempty" yaml:"visualiser_addr,omitempty"`
	ArchivePath    *string `json:"archive_path,omitempty" yaml:"archive_path,omitempty"`
}

// Load reads a .json, .yaml or .yml settings file and validates it.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Settings{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (s *Settings) Validate() error {
	if s.ControllerStatus != nil {
		switch detector.ControllerStatus(*s.ControllerStatus) {
		case detector.Master, detector.Slave:
		default:
			return fmt.Errorf("controller_status must be Master or Slave, got %q", *s.ControllerStatus)
		}
	}
	if s.WaitTimeMs != nil && *s.WaitTimeMs < 0 {
		return fmt.Errorf("wait_time must be non-negative, got %d", *s.WaitTimeMs)
	}
	if s.FunType != nil {
		if _, err := synth.ParseFunctionType(*s.FunType); err != nil {
			return err
		}
	}
	if s.WidthCoeff != nil && *s.WidthCoeff < 0 {
		return fmt.Errorf("width_coeff must be non-negative, got %g", *s.WidthCoeff)
	}
	if s.AxisPoints != nil && *s.AxisPoints < 1 {
		return fmt.Errorf("axis_points must be positive, got %d", *s.AxisPoints)
	}
	if s.ScanPoints != nil && *s.ScanPoints < 1 {
		return fmt.Errorf("scan_points must be positive, got %d", *s.ScanPoints)
	}
	if s.ReportEvery != nil && *s.ReportEvery < 1 {
		return fmt.Errorf("report_every must be positive, got %d", *s.ReportEvery)
	}
	if s.Pause != nil {
		d, err := time.ParseDuration(*s.Pause)
		if err != nil {
			return fmt.Errorf("invalid pause %q: %w", *s.Pause, err)
		}
		if d < 0 {
			return fmt.Errorf("pause must be non-negative, got %s", d)
		}
	}
	if s.ScanPath != nil {
		if _, err := scan.ParsePathType(*s.ScanPath); err != nil {
			return err
		}
	}
	return nil
}

// DetectorSettings merges the detector fields over detector.DefaultSettings.
// Call Validate first; invalid values fall back to defaults.
func (s *Settings) DetectorSettings() detector.Settings {
	d := detector.DefaultSettings()
	if s.ControllerStatus != nil {
		d.ControllerStatus = detector.ControllerStatus(*s.ControllerStatus)
	}
	if s.WaitTimeMs != nil {
		d.WaitTimeMs = *s.WaitTimeMs
	}
	if s.ShowScanner != nil {
		d.ShowScanner = *s.ShowScanner
	}
	if s.ShowNavigator != nil {
		d.ShowNavigator = *s.ShowNavigator
	}
	if s.FunType != nil {
		if ft, err := synth.ParseFunctionType(*s.FunType); err == nil {
			d.FunType = ft
		}
	}
	if s.WidthCoeff != nil {
		d.WidthCoeff = *s.WidthCoeff
	}
	return d
}

// Changes lists the detector settings whose effective value differs between
// old and s, in a fixed order.
func (s *Settings) Changes(old *Settings) []detector.Setting {
	a, b := old.DetectorSettings(), s.DetectorSettings()
	var out []detector.Setting
	if a.ControllerStatus != b.ControllerStatus {
		out = append(out, detector.Setting{Name: detector.SettingControllerStatus, Value: string(b.ControllerStatus)})
	}
	if a.WaitTimeMs != b.WaitTimeMs {
		out = append(out, detector.Setting{Name: detector.SettingWaitTime, Value: b.WaitTimeMs})
	}
	if a.ShowScanner != b.ShowScanner {
		out = append(out, detector.Setting{Name: detector.SettingShowScanner, Value: b.ShowScanner})
	}
	if a.ShowNavigator != b.ShowNavigator {
		out = append(out, detector.Setting{Name: detector.SettingShowNavigator, Value: b.ShowNavigator})
	}
	if a.FunType != b.FunType {
		out = append(out, detector.Setting{Name: detector.SettingFunType, Value: string(b.FunType)})
	}
	if a.WidthCoeff != b.WidthCoeff {
		out = append(out, detector.Setting{Name: detector.SettingWidthCoeff, Value: b.WidthCoeff})
	}
	return out
}

// GetSeed returns the structure seed and whether one was configured. Without
// a seed the process-wide default table is used.
func (s *Settings) GetSeed() (uint64, bool) {
	if s.Seed == nil {
		return 0, false
	}
	return *s.Seed, true
}

func (s *Settings) GetAxisPoints() int {
	if s.AxisPoints == nil {
		return synth.DefaultAxisPoints
	}
	return *s.AxisPoints
}

func (s *Settings) GetReportEvery() int {
	if s.ReportEvery == nil {
		return scan.DefaultReportEvery
	}
	return *s.ReportEvery
}

// GetPause returns the yield pause; invalid strings fall back to the default.
func (s *Settings) GetPause() time.Duration {
	if s.Pause == nil {
		return scan.DefaultPause
	}
	d, err := time.ParseDuration(*s.Pause)
	if err != nil {
		return scan.DefaultPause
	}
	return d
}

func (s *Settings) GetScanPath() scan.PathType {
	if s.ScanPath == nil {
		return scan.Raster
	}
	t, err := scan.ParsePathType(*s.ScanPath)
	if err != nil {
		return scan.Raster
	}
	return t
}

func (s *Settings) GetScanPoints() int {
	if s.ScanPoints == nil {
		return 64
	}
	return *s.ScanPoints
}

func (s *Settings) GetNAverage() int {
	if s.NAverage == nil || *s.NAverage < 1 {
		return 1
	}
	return *s.NAverage
}

func (s *Settings) GetHTTPAddr() string       { return orDefault(s.HTTPAddr, ":8080") }
func (s *Settings) GetRemoteAddr() string     { return orDefault(s.RemoteAddr, "") }
func (s *Settings) GetVisualiserAddr() string { return orDefault(s.VisualiserAddr, "") }
func (s *Settings) GetArchivePath() string    { return orDefault(s.ArchivePath, "mockscanner.db") }

func orDefault(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
