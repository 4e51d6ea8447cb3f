// Package log carries progress and error lines from the unpack/build
// workflows to whatever sink the host provides.
package log

import (
	"io"
	"log"
	"os"
)

// Logger is the sink for host-visible text lines.
type Logger interface {
	// Infof logs a progress message.
	Infof(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})
}

// DefaultLogger is used wherever the caller passes a nil Logger.
var DefaultLogger Logger

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", 0)}
}

// New returns a Logger writing plain lines to w.
func New(w io.Writer) Logger {
	return logWrapper{Logger: log.New(w, "", 0)}
}

type logWrapper struct {
	Logger *log.Logger
}

func (l logWrapper) Infof(format string, args ...interface{}) {
	l.Logger.Printf(format, args...)
}

func (l logWrapper) Errorf(format string, args ...interface{}) {
	l.Logger.Printf("Error: "+format, args...)
}

// Or returns lg if non-nil, else DefaultLogger.
func Or(lg Logger) Logger {
	if lg == nil {
		return DefaultLogger
	}
	return lg
}
