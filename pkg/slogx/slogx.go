// Package slogx builds the structured loggers shared by the connector
// components and threads request-scoped loggers through contexts so one
// correlation id follows a backend call end to end.
package slogx

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config describes the logger for one embedding host.
type Config struct {
	// Service tags every record, e.g. "nyknyc-go".
	Service string
	Version string
	Env     string // "dev" enables source locations

	Level  string // "debug", "info", "warn", "error"
	Format string // "json" (default) or "text"

	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// New returns a logger carrying the service identity on every record.
// Empty Version and Env are omitted rather than logged blank.
func New(cfg Config) *slog.Logger {
	out := cfg.Writer
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		AddSource: cfg.Env == "dev",
		Level:     parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	attrs := []any{"service", cfg.Service}
	if cfg.Version != "" {
		attrs = append(attrs, "version", cfg.Version)
	}
	if cfg.Env != "" {
		attrs = append(attrs, "env", cfg.Env)
	}

	return slog.New(handler).With(attrs...)
}

// parseLevel maps a string to slog.Level, defaulting to info.
func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
