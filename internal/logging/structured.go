// Package logging provides structured JSON logging for kotoshop components.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	baseMu sync.RWMutex
	base   = newBase(os.Stderr, LevelWarn)
)

func newBase(w io.Writer, level Level) zerolog.Logger {
	zerolog.TimestampFieldName = "ts"
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level Level) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(string(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.WarnLevel
	}
	return lvl
}

// Configure replaces the process-wide sink and minimum level.
func Configure(w io.Writer, level Level) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base = newBase(w, level)
}

// SetOutput redirects log output, keeping the current level (for tests).
func SetOutput(w io.Writer) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base = base.Output(w)
}

func root() zerolog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Logger provides structured logging
type Logger struct {
	component string
	fields    map[string]interface{}
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// With returns a logger that adds key to every event.
func (l *Logger) With(key string, value interface{}) *Logger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{component: l.component, fields: fields}
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	zl := root()
	e := zl.WithLevel(parseLevel(level))
	if e == nil {
		return
	}
	e = e.Str("component", l.component).Str("event", event)
	if len(l.fields) > 0 {
		e = e.Fields(l.fields)
	}
	if len(extra) > 0 {
		e = e.Interface("extra", extra)
	}
	if err != nil {
		e = e.Str("error", err.Error())
	}
	e.Send()
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	zl := root()
	e := zl.Info()
	if e == nil {
		return
	}
	e = e.Str("component", l.component).Str("event", event).
		Int64("duration_ms", time.Since(start).Milliseconds())
	if len(l.fields) > 0 {
		e = e.Fields(l.fields)
	}
	if len(extra) > 0 {
		e = e.Interface("extra", extra)
	}
	e.Send()
}
