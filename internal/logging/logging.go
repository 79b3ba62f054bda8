// Package logging builds the zap logger used across the engine.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aristath/parallel-agents/internal/config"
)

// EncoderConfig is the encoder shared by console and json output:
// ISO8601 timestamps, capitalized levels, short caller.
func EncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	return enc
}

// Build creates a logger writing to stderr. Stdout is left to command output.
func Build(cfg config.LoggerConfig) (*zap.Logger, zap.AtomicLevel, error) {
	return BuildTo(cfg, zapcore.Lock(os.Stderr), zapcore.Lock(os.Stderr))
}

// BuildTo creates a logger that writes below-error entries to out and
// error-and-above entries to errOut. The returned level can be changed at runtime.
func BuildTo(cfg config.LoggerConfig, out, errOut zapcore.WriteSyncer) (*zap.Logger, zap.AtomicLevel, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := zap.ParseAtomicLevel(levelName)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	switch cfg.Encoding {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(EncoderConfig())
	case "json":
		encoder = zapcore.NewJSONEncoder(EncoderConfig())
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("unknown log encoding %q", cfg.Encoding)
	}

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return level.Enabled(lvl) && lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return level.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, out, lowPriority),
		zapcore.NewCore(encoder, errOut, highPriority),
	)
	return zap.New(core, zap.AddCaller()), level, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
