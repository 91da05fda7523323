package logging

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where logs go and how the files rotate.
type Options struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console also writes human-readable lines to stderr.
	Console bool
	Level   zapcore.Level
}

func DefaultOptions(dir string) Options {
	return Options{
		Dir:        dir,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Compress:   true,
		Level:      zap.InfoLevel,
	}
}

func (o Options) rotator(file string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(o.Dir, file),
		MaxSize:    o.MaxSizeMB, // MB
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays, // days
		Compress:   o.Compress,
	}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// NewLogger writes JSON lines to <Dir>/opswatch.log, rotated by lumberjack.
func NewLogger(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	file := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(opts.rotator("opswatch.log")),
		opts.Level,
	)
	if !opts.Console {
		return zap.New(file), nil
	}
	return zap.New(zapcore.NewTee(file, consoleCore(os.Stderr, opts.Level))), nil
}

// NewConsole logs to w only. Used when no log directory is configured.
func NewConsole(w io.Writer, level zapcore.Level) *zap.Logger {
	return zap.New(consoleCore(w, level))
}

func consoleCore(w io.Writer, level zapcore.Level) zapcore.Core {
	cfg := encoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(w)), level)
}
