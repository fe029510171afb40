package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// LogEntry is one call captured by RecordingLogger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// String renders the entry as "LEVEL msg k=v ...".
func (e LogEntry) String() string {
	var b strings.Builder
	b.WriteString(e.Level + " " + e.Msg)
	for i := 0; i+1 < len(e.Args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", e.Args[i], e.Args[i+1])
	}
	return b.String()
}

// RecordingLogger captures log calls for assertions. Safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any)    { l.log("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)     { l.log("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)     { l.log("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any)    { l.log("ERROR", msg, args) }
func (l *RecordingLogger) Critical(msg string, args ...any) { l.log("CRITICAL", msg, args) }

// Entries returns a copy of everything logged so far.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Has reports whether a message was logged at the given level.
func (l *RecordingLogger) Has(level, msg string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && e.Msg == msg {
			return true
		}
	}
	return false
}

// Count returns the number of entries logged at the given level.
func (l *RecordingLogger) Count(level string) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
