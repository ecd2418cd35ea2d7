package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLogLevel accepts debug, info, warn or error in any case.
func ParseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(raw) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

// NewLogger returns the process logger. LOG_FORMAT=json selects the JSON
// handler; anything else writes text.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg != nil {
		level, _ := ParseLogLevel(cfg.LogLevel)
		opts.Level = level
	}
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler).With(slog.String("service", "catalog"))
	if cfg != nil && cfg.AppEnv != "" {
		logger = logger.With(slog.String("env", cfg.AppEnv))
	}
	return logger
}
