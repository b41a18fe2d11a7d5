// Package log builds the zap loggers used by dnscacher.
// There is no process-wide logger: the CLI builds one from the loaded
// configuration and hands it to every component that logs.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel is the environment variable consulted when no level is configured.
const EnvLevel = "LOG_LEVEL"

// Options controls how New builds a logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means $LOG_LEVEL or info.
	Level string
	// File is an optional log file written in addition to stderr.
	File string
	// Quiet drops the stderr output.
	Quiet bool
}

// ParseLevel maps a textual level onto a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	case "critical", "fatal":
		return zap.FatalLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a sugared production logger from opts.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := opts.Level
	if level == "" {
		level = os.Getenv(EnvLevel)
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true

	cfg.OutputPaths = nil
	if !opts.Quiet {
		cfg.OutputPaths = append(cfg.OutputPaths, "stderr")
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, opts.File)
	}
	if len(cfg.OutputPaths) == 0 {
		return Nop(), nil
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l.Sugar(), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Nop()
	}
	return l
}
