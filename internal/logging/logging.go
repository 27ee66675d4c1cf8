package logging

import (
	"log"
	"os"
	"sync/atomic"
)

var (
	disabled atomic.Bool
	debug    atomic.Bool
	logger   = log.New(os.Stdout, "", log.LstdFlags)
)

// Disable turns off all logging
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

// SetDebug toggles debug-level output. Debug messages are suppressed unless
// enabled; everything else only honors the global disable switch.
func SetDebug(on bool) {
	debug.Store(on)
}

// DebugEnabled reports whether debug-level output is on.
func DebugEnabled() bool {
	return debug.Load() && !disabled.Load()
}

// Info logs an info message
func Info(v ...any) {
	if !disabled.Load() {
		logger.Println(v...)
	}
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf(format, v...)
	}
}

// Error logs an error message
func Error(v ...any) {
	if !disabled.Load() {
		logger.Println(v...)
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf(format, v...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf(format, v...)
	}
}

// Debugf logs a formatted debug message. No-op unless SetDebug(true).
func Debugf(format string, v ...any) {
	if DebugEnabled() {
		logger.Printf(format, v...)
	}
}
