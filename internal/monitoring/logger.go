package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a logger that prepends component to every line, e.g.
// "tracking: state idle -> awaiting_permission". It resolves Logf at call
// time so a later SetLogger still takes effect.
func Prefixed(component string) func(format string, v ...interface{}) {
	prefix := component + ": "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
