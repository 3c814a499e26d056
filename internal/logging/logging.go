// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide structured logger. Every runtime component takes a
// *Logger through its options and falls back to Default(); a nil logger is
// valid everywhere and silently drops records.

package logging

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the generified logiface logger used across the module.
type Logger = logiface.Logger[logiface.Event]

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, logiface.LevelWarning))
}

// New builds a JSON logger writing to w at the given level.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField(`time`),
		),
		stumpy.L.WithLevel(level),
	).Logger()
}

// Default returns the process-wide logger. It may be nil.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger. Passing nil disables logging
// for components that were not given an explicit logger.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Or returns l, or Default() when l is nil.
func Or(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Default()
}

// ParseLevel maps a textual level ("debug", "info", "warning", ...) to a
// logiface.Level. Unknown names yield LevelInformational and false.
func ParseLevel(s string) (logiface.Level, bool) {
	switch s {
	case "trace":
		return logiface.LevelTrace, true
	case "debug":
		return logiface.LevelDebug, true
	case "info", "informational":
		return logiface.LevelInformational, true
	case "notice":
		return logiface.LevelNotice, true
	case "warn", "warning":
		return logiface.LevelWarning, true
	case "err", "error":
		return logiface.LevelError, true
	case "crit", "critical":
		return logiface.LevelCritical, true
	case "off", "disabled":
		return logiface.LevelDisabled, true
	}
	return logiface.LevelInformational, false
}
