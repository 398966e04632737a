// Package logging builds the structured loggers shared by every binary.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New creates a [log.Logger] writing to w with timestamps and caller
// reporting enabled. The writer defaults to [os.Stderr]; unknown levels fall
// back to info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true, ReportCaller: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Discard returns a logger that drops everything, for tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// Component creates a child logger tagged with the component name.
func Component(l *log.Logger, name string) *log.Logger {
	return l.With("component", name)
}

// TaskLogger adapts a logger to the asynq.Logger interface, which takes
// unstructured arguments.
type TaskLogger struct {
	L *log.Logger
}

func (t TaskLogger) Debug(args ...any) { t.L.Debug(fmt.Sprint(args...)) }
func (t TaskLogger) Info(args ...any)  { t.L.Info(fmt.Sprint(args...)) }
func (t TaskLogger) Warn(args ...any)  { t.L.Warn(fmt.Sprint(args...)) }
func (t TaskLogger) Error(args ...any) { t.L.Error(fmt.Sprint(args...)) }
func (t TaskLogger) Fatal(args ...any) { t.L.Fatal(fmt.Sprint(args...)) }
