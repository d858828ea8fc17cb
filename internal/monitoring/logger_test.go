package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("grab %d done", 3)
	if got != "grab 3 done" {
		t.Errorf("Logf wrote %q, want %q", got, "grab 3 done")
	}

	got = ""
	SetLogger(nil)
	Logf("ignored")
	if got != "" {
		t.Errorf("no-op logger should not reach the previous sink, got %q", got)
	}
}

func TestSetDebugLogger(t *testing.T) {
	original := Debugf
	defer func() { Debugf = original }()

	// Default is silent and must not panic.
	Debugf("step %d", 1)

	calls := 0
	SetDebugLogger(func(string, ...interface{}) { calls++ })
	Debugf("step %d", 2)
	if calls != 1 {
		t.Errorf("debug logger called %d times, want 1", calls)
	}

	SetDebugLogger(nil)
	Debugf("step %d", 3)
	if calls != 1 {
		t.Errorf("nil debug logger should be a no-op, calls=%d", calls)
	}
}
