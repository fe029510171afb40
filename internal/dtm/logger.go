package dtm

// Logger provides structured logging for the archival pipeline.
// The args follow slog conventions: alternating key/value pairs.
// Critical is reserved for integrity failures.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Critical(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any)    {}
func (*NopLogger) Info(string, ...any)     {}
func (*NopLogger) Warn(string, ...any)     {}
func (*NopLogger) Error(string, ...any)    {}
func (*NopLogger) Critical(string, ...any) {}
