// Package logging builds the structured loggers and the JSON run journal
// shared by the unravel binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerConfig)

type loggerConfig struct {
	out    io.Writer
	level  slog.Level
	format string
}

// WithOutput directs records to w instead of stderr.
func WithOutput(w io.Writer) LoggerOption {
	return func(cfg *loggerConfig) {
		if w != nil {
			cfg.out = w
		}
	}
}

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) LoggerOption {
	return func(cfg *loggerConfig) {
		cfg.level = level
	}
}

// WithFormat selects "json" (default) or "text" records.
func WithFormat(format string) LoggerOption {
	return func(cfg *loggerConfig) {
		cfg.format = strings.ToLower(strings.TrimSpace(format))
	}
}

// NewLogger returns a slog logger tagged with component.
func NewLogger(component string, opts ...LoggerOption) *slog.Logger {
	cfg := loggerConfig{out: os.Stderr, level: slog.LevelInfo, format: "json"}
	for _, opt := range opts {
		opt(&cfg)
	}
	handlerOpts := &slog.HandlerOptions{Level: cfg.level}
	var handler slog.Handler
	if cfg.format == "text" {
		handler = slog.NewTextHandler(cfg.out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.out, handlerOpts)
	}
	return slog.New(handler).With("component", component)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", name, err)
	}
	return level, nil
}
