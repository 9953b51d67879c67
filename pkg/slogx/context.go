package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext returns a context carrying logger. Components further down
// the call path pick it up with FromContext instead of their own default.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger carried by ctx. When ctx carries none it
// returns fallback, or slog.Default() when fallback is also nil.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// WithRequestID returns a context whose logger is the one ctx already
// carries (or fallback) extended with the request correlation id, so every
// record emitted under the returned context is tied to that request.
func WithRequestID(ctx context.Context, fallback *slog.Logger, reqID string) context.Context {
	return WithContext(ctx, FromContext(ctx, fallback).With("request_id", reqID))
}
