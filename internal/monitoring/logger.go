// Package monitoring holds the diagnostic logger shared by the calibration
// pipeline and its HTTP boundary.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Pipeline stages report the parameters they used and
// the values they selected through it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Quiet mutes Logf and returns a function that restores the previous logger.
//
//	defer monitoring.Quiet()()
func Quiet() func() {
	prev := Logf
	SetLogger(nil)
	return func() { Logf = prev }
}
