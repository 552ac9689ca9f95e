// Package dmlog provides the leveled, "describable first argument"
// logging helpers used throughout the engine, modeled on the
// fs.Errorf/Infof/Debugf family the teacher calls at every layer.
package dmlog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Describable is anything that can identify itself in a log line -
// a Location, a file handle, a worker, a stream.
type Describable interface {
	String() string
}

// stringDescribable lets callers pass a bare string where a
// Describable is expected.
type stringDescribable string

func (s stringDescribable) String() string { return string(s) }

// Str wraps a plain string as a Describable.
func Str(s string) Describable { return stringDescribable(s) }

var log = logrus.StandardLogger()

// SetLevel adjusts the global verbosity, mirroring the CLI's -v/-vv flags.
func SetLevel(level logrus.Level) { log.SetLevel(level) }

func entry(d Describable) *logrus.Entry {
	return log.WithField("component", d.String())
}

// Debugf logs at debug level.
func Debugf(d Describable, format string, args ...interface{}) {
	entry(d).Debug(fmt.Sprintf(format, args...))
}

// Infof logs at info level.
func Infof(d Describable, format string, args ...interface{}) {
	entry(d).Info(fmt.Sprintf(format, args...))
}

// Errorf logs at error level.
func Errorf(d Describable, format string, args ...interface{}) {
	entry(d).Error(fmt.Sprintf(format, args...))
}

// Fatalf logs at error level and marks the condition unrecoverable for
// the caller; unlike logrus.Fatalf it does not call os.Exit - the
// engine always has a caller to report the failure to.
func Fatalf(d Describable, format string, args ...interface{}) {
	entry(d).Error("fatal: " + fmt.Sprintf(format, args...))
}
