package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Stderr writes structured log messages to stderr through zap.
type Stderr struct {
	sugar *zap.SugaredLogger
}

// NewStderr creates a console logger on stderr. verbose enables debug output.
func NewStderr(verbose bool) (*Stderr, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	cfg.Sampling = nil
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Stderr{sugar: l.Named("devserve").Sugar()}, nil
}

// New wraps an existing zap logger.
func New(l *zap.Logger) *Stderr {
	return &Stderr{sugar: l.Sugar()}
}

// NewNop returns a logger that discards everything.
func NewNop() *Stderr {
	return New(zap.NewNop())
}

// Debug logs a debug message with key/value pairs.
func (l *Stderr) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Info logs an informational message.
func (l *Stderr) Info(msg string, args ...any) { l.sugar.Infow(msg, args...) }

// Warn logs a warning.
func (l *Stderr) Warn(msg string, args ...any) { l.sugar.Warnw(msg, args...) }

// Error logs an error message.
func (l *Stderr) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (l *Stderr) Sync() error {
	return l.sugar.Sync()
}
