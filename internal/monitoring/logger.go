// Package monitoring holds the package-level diagnostic loggers shared by the
// acquisition packages. The CLI points them at zap; tests mute or capture them.
package monitoring

import "log"

// Logf is the diagnostic logger for normal operational messages. It defaults
// to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives high-volume messages (per-step scan progress, per-frame
// codec traffic). It is a no-op until SetDebugLogger installs a sink.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebugLogger replaces Debugf. Passing nil installs a no-op logger.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = f
}
