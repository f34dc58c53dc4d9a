// Package log builds the zap loggers used across limsync.
//
// The core engine takes a *zap.Logger directly; this package only owns
// construction so every surface logs with the same encoder and level
// conventions.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a JSON logger writing to os.Stderr. With verbose set, debug
// entries are included.
func New(verbose bool) *zap.Logger {
	return NewWithWriter(verbose, os.Stderr)
}

// NewWithWriter creates a logger writing to w. Tests pass a buffer here.
func NewWithWriter(verbose bool, w io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)

	return zap.New(core)
}
