// Package logger implements a logging adapter using log/slog.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/luminositylinux/lpm/internal/core/ports"
)

// messager describes an error that can report its own message without the
// chain. This matches the Message() method provided by zerr.Error
// (go.trai.ch/zerr v0.3.0+). If zerr's API changes, errors fall back to
// standard rendering.
type messager interface {
	Message() string
}

// Logger implements ports.Logger using log/slog.
type Logger struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	jsonMode bool
	output   io.Writer
	level    slog.Level
}

// New creates a new Logger writing pretty output to stderr.
func New() *Logger {
	l := &Logger{output: os.Stderr, level: slog.LevelInfo}
	l.rebuild()
	return l
}

// SetOutput updates the logger's output destination. If w is nil, stderr is
// used.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	l.output = w
	l.rebuild()
}

// SetJSON switches between JSON and pretty output.
func (l *Logger) SetJSON(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jsonMode = enable
	l.rebuild()
}

// SetVerbose lowers the threshold to debug level.
func (l *Logger) SetVerbose(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if enable {
		l.level = slog.LevelDebug
	} else {
		l.level = slog.LevelInfo
	}
	l.rebuild()
}

func (l *Logger) rebuild() {
	opts := &slog.HandlerOptions{Level: l.level}
	var handler slog.Handler
	if l.jsonMode {
		handler = slog.NewJSONHandler(l.output, opts)
	} else {
		handler = NewPrettyHandler(l.output, opts)
	}
	l.logger = slog.New(handler)
}

// Debug logs fine-grained progress.
func (l *Logger) Debug(msg string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Debug(msg, args...)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Info(msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.logger.Warn(msg, args...)
}

// Error logs an error, rendering wrapped causes as a tree in pretty mode.
func (l *Logger) Error(msg string, err error, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err == nil {
		l.logger.Error(msg, args...)
		return
	}
	if l.jsonMode {
		l.logger.Error(msg, append([]any{"error", err.Error()}, args...)...)
		return
	}
	l.logger.Error(formatChain(msg, err), args...)
}

// formatChain walks the error chain, using Message() for zerr errors so each
// line shows one cause, and renders a "Caused by" tree.
func formatChain(msg string, err error) string {
	var messages []string
	current := err
	for current != nil {
		if m, ok := current.(messager); ok {
			messages = append(messages, m.Message())
			current = errors.Unwrap(current)
		} else {
			messages = append(messages, current.Error())
			break
		}
	}

	var lines []string
	lines = append(lines, msg+": "+firstLine(messages[0]))
	for i, m := range messages[1:] {
		if i == 0 {
			lines = append(lines, "  Caused by:")
		}
		lines = append(lines, "    -> "+firstLine(m))
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

var _ ports.Logger = (*Logger)(nil)
