// Package observability provides unified logging for the remstore
// workspace. Components obtain a Logger with a component prefix and
// attach structured fields to every message.
package observability

// LogLevel represents the severity of a log message
type LogLevel string

const (
	// LogLevelDebug is for detailed troubleshooting information
	LogLevelDebug LogLevel = "DEBUG"

	// LogLevelInfo is for general operational information
	LogLevelInfo LogLevel = "INFO"

	// LogLevelWarn is for potentially harmful situations
	LogLevelWarn LogLevel = "WARN"

	// LogLevelError is for error events that might still allow the
	// application to continue running
	LogLevelError LogLevel = "ERROR"

	// LogLevelFatal is for severe errors that cause the application to abort
	LogLevelFatal LogLevel = "FATAL"
)

// Logger defines the logging interface used across remstore
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})

	// WithPrefix returns a new logger scoped to the given component prefix
	WithPrefix(prefix string) Logger
}
