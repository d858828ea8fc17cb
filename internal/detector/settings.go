package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/mockscanner/internal/synth"
)

// Setting names understood by CommitSetting.
const (
	SettingControllerStatus = "controller_status"
	SettingWaitTime         = "wait_time"
	SettingShowScanner      = "show_scanner"
	SettingShowNavigator    = "show_navigator"
	SettingFunType          = "fun_type"
	SettingWidthCoeff       = "width_coeff"
)

// Status commands emitted to the host.
const (
	CommandUpdateMainSettings = "update_main_settings"
	CommandShowScanner        = "show_scanner"
	CommandShowNavigator      = "show_navigator"
)

// ErrUnknownSetting is returned by CommitSetting for names it does not own.
var ErrUnknownSetting = errors.New("unknown setting")

// ControllerStatus says whether the detector owns its controller or shares
// one supplied by another plugin.
type ControllerStatus string

const (
	Master ControllerStatus = "Master"
	Slave  ControllerStatus = "Slave"
)

// Setting is one named value change coming from the host.
type Setting struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ThreadCommand is a status message from a detector to its host.
type ThreadCommand struct {
	Command    string `json:"command"`
	Attributes []any  `json:"attributes,omitempty"`
}

// Settings is the configuration surface of the mock scanner.
type Settings struct {
	ControllerStatus ControllerStatus   `json:"controller_status"`
	WaitTimeMs       int                `json:"wait_time"`
	ShowScanner      bool               `json:"show_scanner"`
	ShowNavigator    bool               `json:"show_navigator"`
	FunType          synth.FunctionType `json:"fun_type"`
	WidthCoeff       float64            `json:"width_coeff"`
}

// DefaultSettings mirrors the defaults shown to the operator.
func DefaultSettings() Settings {
	return Settings{
		ControllerStatus: Master,
		WaitTimeMs:       100,
		FunType:          synth.Gaussians,
		WidthCoeff:       1,
	}
}

// apply validates s and writes it into the receiver, returning the status
// command the host should act on, if any.
func (st *Settings) apply(s Setting) (*ThreadCommand, error) {
	switch s.Name {
	case SettingControllerStatus:
		v, err := asString(s.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		switch ControllerStatus(v) {
		case Master, Slave:
			st.ControllerStatus = ControllerStatus(v)
		default:
			return nil, fmt.Errorf("%s: expected Master or Slave, got %q", s.Name, v)
		}
		return nil, nil

	case SettingWaitTime:
		v, err := asInt(s.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s must be non-negative, got %d", s.Name, v)
		}
		st.WaitTimeMs = v
		return &ThreadCommand{
			Command:    CommandUpdateMainSettings,
			Attributes: []any{[]string{SettingWaitTime}, v, "value"},
		}, nil

	case SettingShowScanner, SettingShowNavigator:
		v, err := asBool(s.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		if s.Name == SettingShowScanner {
			st.ShowScanner = v
			return &ThreadCommand{Command: CommandShowScanner, Attributes: []any{v}}, nil
		}
		st.ShowNavigator = v
		return &ThreadCommand{Command: CommandShowNavigator, Attributes: []any{v}}, nil

	case SettingFunType:
		v, err := asString(s.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		ft, err := synth.ParseFunctionType(v)
		if err != nil {
			return nil, err
		}
		st.FunType = ft
		return nil, nil

	case SettingWidthCoeff:
		v, err := asFloat(s.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s must be non-negative, got %g", s.Name, v)
		}
		st.WidthCoeff = v
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, s.Name)
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case synth.FunctionType:
		return string(t), nil
	case ControllerStatus:
		return string(t), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func asBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("expected integer, got %g", t)
		}
		return int(t), nil
	case json.Number:
		i, err := t.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}
