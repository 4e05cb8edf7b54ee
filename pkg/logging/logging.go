// Package logging builds the process-wide structured logger used across
// ReedBase's components: a simple level/format Config backed by zap
// plus a rotating lumberjack writer.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, output format and rotation of the logger.
type Config struct {
	Level      string // debug|info|warn|error
	Format     string // json|console
	File       string // empty means stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig returns sensible defaults for an embedded engine: console
// output at info level, no file rotation until a path is configured.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", MaxSizeMB: 64, MaxBackups: 3, MaxAgeDays: 28}
}

// New builds a *zap.Logger per cfg. Close the returned logger's
// underlying writers via Sync before process exit.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var writer zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		writer = zapcore.NewMultiWriteSyncer(writer, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core), nil
}

// Nop returns a logger that discards everything, used by components that
// don't receive an explicit logger (mainly in tests).
func Nop() *zap.Logger { return zap.NewNop() }
