package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// LevelCritical is the level used for integrity failures.
const LevelCritical = slog.Level(12)

const (
	logTimeFormat   = "2006-01-02T15:04:05.000000-07:00"
	logDayFormat    = "2006_01_02"
	logFileSuffix   = "-DTM_log.txt"
	logSeparator    = "---"
	defaultLogLevel = "info"
)

// LogFileName returns the name of the log file that holds records from t's day.
func LogFileName(t time.Time) string {
	return t.Format(logDayFormat) + logFileSuffix
}

// ParseLevel maps a config log level to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", defaultLogLevel:
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "critical":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func levelName(l slog.Level) string {
	switch {
	case l >= LevelCritical:
		return "CRITICAL"
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

// dtmHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t---\t[<LEVEL>] <message> <key=value ...>
//
// The third field never contains tabs or newlines, so every line splits
// into exactly three fields.
type dtmHandler struct {
	w     lineWriter
	level slog.Leveler
	attrs []slog.Attr
}

// fieldEscaper keeps a message on one line and inside one field.
var fieldEscaper = strings.NewReplacer("\t", " ", "\r\n", " | ", "\n", " | ")

// lineWriter receives one formatted line per record.
type lineWriter interface {
	WriteLine(t time.Time, line []byte) error
}

func (h *dtmHandler) Enabled(_ context.Context, l slog.Level) bool {
	if h.level == nil {
		return true
	}
	return l >= h.level.Level()
}

func (h *dtmHandler) Handle(_ context.Context, r slog.Record) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "[%s] %s", levelName(r.Level), r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&msg, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&msg, " %s=%v", a.Key, a.Value)
		return true
	})

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\t%s\t%s\n", r.Time.Format(logTimeFormat), logSeparator, fieldEscaper.Replace(msg.String()))

	return h.w.WriteLine(r.Time, buf.Bytes())
}

func (h *dtmHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dtmHandler{
		w:     h.w,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *dtmHandler) WithGroup(string) slog.Handler { return h }

// streamWriter writes every line to a single writer.
type streamWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *streamWriter) WriteLine(_ time.Time, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(line)
	return err
}

// dailyWriter appends lines to one file per calendar day in dir. The file
// is switched when a record's date differs from the open file's date.
type dailyWriter struct {
	mu     sync.Mutex
	dir    string
	day    string
	f      *os.File
	mirror io.Writer
}

func newDailyWriter(dir string, mirror io.Writer) (*dailyWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return &dailyWriter{dir: dir, mirror: mirror}, nil
}

func (w *dailyWriter) WriteLine(t time.Time, line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if day := t.Format(logDayFormat); w.f == nil || day != w.day {
		if w.f != nil {
			w.f.Close()
			w.f = nil
		}
		f, err := os.OpenFile(filepath.Join(w.dir, LogFileName(t)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		w.f = f
		w.day = day
	}

	if _, err := w.f.Write(line); err != nil {
		return err
	}
	if w.mirror != nil {
		w.mirror.Write(line)
	}
	return nil
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// newLogger creates a structured logger that writes to the daily log file in
// logDir, mirrored to stderr when stderr is a terminal.
// It returns the slog.Logger, the writer to close on shutdown, and any error.
func newLogger(logDir, level string) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	var mirror io.Writer
	if term.IsTerminal(int(os.Stderr.Fd())) {
		mirror = os.Stderr
	}

	w, err := newDailyWriter(logDir, mirror)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(&dtmHandler{w: w, level: lvl}), w, nil
}

// slogAdapter wraps *slog.Logger to satisfy the dtm.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
func (a *slogAdapter) Critical(msg string, args ...any) {
	a.l.Log(context.Background(), LevelCritical, msg, args...)
}
