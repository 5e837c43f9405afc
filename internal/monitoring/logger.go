// Package monitoring holds racelog's diagnostic logger. Library packages log
// through Logf so the binary and tests can redirect or mute them in one place.
package monitoring

import (
	"log"
	"sync"
)

var (
	mu   sync.RWMutex
	logf = log.Printf
)

// Logf writes a diagnostic line through the current logger, log.Printf unless
// replaced by SetLogger.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// SetLogger replaces the package logger and returns a function restoring the
// previous one. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) (restore func()) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	mu.Lock()
	prev := logf
	logf = f
	mu.Unlock()
	return func() {
		mu.Lock()
		logf = prev
		mu.Unlock()
	}
}

// Prefix returns a Logf variant that starts every line with "prefix: ". The
// logger is looked up on each call, so later SetLogger calls apply.
func Prefix(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(prefix+": "+format, v...)
	}
}
