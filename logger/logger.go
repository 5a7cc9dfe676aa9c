// Package logger provides a small logging abstraction so the stage control
// packages do not depend on a concrete logging framework.
//
// The Logger interface supports structured logging with key-value pairs at
// the usual severity levels. The default implementation is built on
// log/slog; set ENV=development for human-readable console output.
package logger

// Level indicates the logging severity level.
type Level = int8

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger defines a common interface for logging.
type Logger interface {
	// Debug logs a message at DebugLevel with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel with optional key-value pairs.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel, then calls os.Exit(1) even if
	// logging at FatalLevel is disabled.
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger and adds structured context to it.
	// Key-values added to the child don't affect the parent, and vice versa.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() Level
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level Level)
}
