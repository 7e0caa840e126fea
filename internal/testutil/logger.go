// Package testutil provides shared test helpers.
package testutil

import (
	"sync"

	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
)

// LogEntry is one entry captured by a RecordingLogger.
type LogEntry struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// Field returns the value of the named field, including fields inherited
// through With.
func (e LogEntry) Field(key string) (interface{}, bool) {
	for i := len(e.Fields) - 1; i >= 0; i-- {
		if e.Fields[i].Key == key {
			return e.Fields[i].Value, true
		}
	}
	return nil, false
}

type logSink struct {
	mu      sync.Mutex
	entries []LogEntry
}

// RecordingLogger implements logging.Logger and keeps every entry in memory.
// Loggers derived with With or Named record into the same sink.
type RecordingLogger struct {
	sink   *logSink
	name   string
	fields []logging.Field
}

// NewRecordingLogger returns an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{sink: &logSink{}}
}

func (l *RecordingLogger) log(level, msg string, fields []logging.Field) {
	all := make([]logging.Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, LogEntry{Level: level, Logger: l.name, Message: msg, Fields: all})
}

func (l *RecordingLogger) Debug(msg string, fields ...logging.Field) {
	l.log(logging.LevelDebug, msg, fields)
}
func (l *RecordingLogger) Info(msg string, fields ...logging.Field) {
	l.log(logging.LevelInfo, msg, fields)
}
func (l *RecordingLogger) Warn(msg string, fields ...logging.Field) {
	l.log(logging.LevelWarn, msg, fields)
}
func (l *RecordingLogger) Error(msg string, fields ...logging.Field) {
	l.log(logging.LevelError, msg, fields)
}

// Fatal records at level "fatal" and does not exit.
func (l *RecordingLogger) Fatal(msg string, fields ...logging.Field) { l.log("fatal", msg, fields) }

func (l *RecordingLogger) With(fields ...logging.Field) logging.Logger {
	child := *l
	child.fields = append(append([]logging.Field(nil), l.fields...), fields...)
	return &child
}

func (l *RecordingLogger) Named(name string) logging.Logger {
	child := *l
	if l.name != "" {
		name = l.name + "." + name
	}
	child.name = name
	return &child
}

// Entries returns a copy of everything recorded so far.
func (l *RecordingLogger) Entries() []LogEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]LogEntry(nil), l.sink.entries...)
}

// Find returns the entries with the given level and message.
func (l *RecordingLogger) Find(level, msg string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Level == level && e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether an entry with the given level and message was logged.
func (l *RecordingLogger) Has(level, msg string) bool { return len(l.Find(level, msg)) > 0 }

// Reset drops every recorded entry.
func (l *RecordingLogger) Reset() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = nil
}

var _ logging.Logger = (*RecordingLogger)(nil)
