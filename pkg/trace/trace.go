// Package trace provides the context-carried logger used by every pixvault
// package. A Tracer writes through the standard log package and, when one is
// attached, mirrors each emitted line to a caller-supplied sink so that GUI,
// CLI or job-queue drivers can show the same log stream to their users.
package trace

import (
	"context"
	"fmt"
	"log"
	"os"
)

// LogLevel represents tracing verbosity level
type LogLevel int

const (
	// LogLevelNormal for regular user-facing messages
	LogLevelNormal LogLevel = iota
	// LogLevelVerbose for detailed debug info
	LogLevelVerbose
	// LogLevelTrace for maximum verbosity, including per-chunk output
	LogLevelTrace
)

// Sink receives every line a Tracer emits, already prefixed.
type Sink func(line string)

type traceKeyType string

const traceKey traceKeyType = "tracer"

// Tracer provides a context-aware tracing interface
type Tracer struct {
	prefix string
	level  LogLevel
	sink   Sink
}

// NewTracer creates a new tracer instance
func NewTracer(prefix string, level LogLevel) *Tracer {
	return &Tracer{
		prefix: prefix,
		level:  level,
	}
}

// WithContext adds the tracer to the given context
func WithContext(ctx context.Context, tracer *Tracer) context.Context {
	return context.WithValue(ctx, traceKey, tracer)
}

// FromContext extracts the tracer from the context
func FromContext(ctx context.Context) *Tracer {
	if tracer, ok := ctx.Value(traceKey).(*Tracer); ok {
		return tracer
	}
	return NewTracer("", LogLevelNormal)
}

// WithSink returns a copy of the tracer that also delivers lines to sink.
// A nil sink detaches any sink inherited from t.
func (t *Tracer) WithSink(sink Sink) *Tracer {
	return &Tracer{
		prefix: t.prefix,
		level:  t.level,
		sink:   sink,
	}
}

// WithPrefix creates a new tracer with the given prefix
func (t *Tracer) WithPrefix(prefix string) *Tracer {
	return &Tracer{
		prefix: prefix,
		level:  t.level,
		sink:   t.sink,
	}
}

// SetVerbose updates the verbosity level
func (t *Tracer) SetVerbose(verbose bool) {
	if verbose {
		t.level = LogLevelVerbose
	} else {
		t.level = LogLevelNormal
	}
}

// IsVerbose returns whether verbose tracing is enabled
func (t *Tracer) IsVerbose() bool {
	return t.level >= LogLevelVerbose
}

// Level returns the tracer's verbosity level
func (t *Tracer) Level() LogLevel {
	return t.level
}

// Prefix returns the tracer's prefix
func (t *Tracer) Prefix() string {
	return t.prefix
}

func (t *Tracer) emit(tag string, msg string) {
	var line string
	switch {
	case t.prefix != "" && tag != "":
		line = fmt.Sprintf("%s %s: %s", t.prefix, tag, msg)
	case t.prefix != "":
		line = fmt.Sprintf("%s: %s", t.prefix, msg)
	case tag != "":
		line = fmt.Sprintf("%s: %s", tag, msg)
	default:
		line = msg
	}
	log.Print(line)
	if t.sink != nil {
		t.sink(line)
	}
}

// Infof logs a formatted message at normal level
func (t *Tracer) Infof(format string, args ...interface{}) {
	t.emit("", fmt.Sprintf(format, args...))
}

// Debugf logs a formatted message only if verbose is enabled
func (t *Tracer) Debugf(format string, args ...interface{}) {
	if t.level < LogLevelVerbose {
		return
	}
	t.emit("", fmt.Sprintf(format, args...))
}

// Tracef logs a message at the TRACE level (most verbose)
func (t *Tracer) Tracef(format string, args ...interface{}) {
	if t.level < LogLevelTrace {
		return
	}
	t.emit("TRACE", fmt.Sprintf(format, args...))
}

// Error logs an error message
func (t *Tracer) Error(err error) {
	t.emit("ERROR", err.Error())
}

// Fatal logs a fatal error and exits
func (t *Tracer) Fatal(err error) {
	t.emit("FATAL", err.Error())
	os.Exit(1)
}
