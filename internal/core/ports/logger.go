// Package ports defines the core interfaces for the application.
package ports

// Logger is the minimal logging surface used across components.
type Logger interface {
	// Debug logs fine-grained progress at debug level.
	Debug(msg string, args ...any)

	// Info logs user-relevant progress.
	Info(msg string, args ...any)

	// Warn logs recoverable anomalies.
	Warn(msg string, args ...any)

	// Error logs an error, rendering wrapped causes as a tree.
	Error(msg string, err error, args ...any)
}
