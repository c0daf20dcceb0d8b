// Package logging provides the application logger.
package logging

import (
	"go.uber.org/zap"
)

// Logger wraps a zap sugared logger behind the key/value interface the rest
// of the application codes against.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger creates a production logger writing JSON to stdout.
func NewLogger() *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{s: z.Sugar()}
}

// NewNop creates a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// Info logs an informational message with key/value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.s.Infow(msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.s.Warnw(msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.s.Errorw(msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.s.Debugw(msg, args...)
}

// Sync flushes buffered entries before shutdown.
func (l *Logger) Sync() {
	_ = l.s.Sync()
}
