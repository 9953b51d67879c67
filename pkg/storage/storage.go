// Package storage provides the pluggable key/value persistence backends the
// connector uses for session and pending-auth records, plus a dual-write
// store that layers a fallback backend under the primary one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Backend.Get when no value exists for a key.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a minimal key/value persistence interface. Implementations must
// be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Dual writes to a primary backend and, independently, to a fallback backend
// for redundancy. A primary write failure is non-fatal as long as the
// fallback succeeds; both failing raises an error. Reads prefer the primary
// and fall through to the fallback.
type Dual struct {
	primary  Backend
	fallback Backend
	logger   *slog.Logger
}

// NewDual combines a primary and fallback backend. The fallback may be nil,
// in which case Dual degrades to the primary alone.
func NewDual(primary, fallback Backend, logger *slog.Logger) *Dual {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dual{primary: primary, fallback: fallback, logger: logger}
}

func (d *Dual) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := d.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if d.fallback == nil {
		return nil, err
	}
	if !errors.Is(err, ErrNotFound) {
		d.logger.Warn("storage: primary read failed, trying fallback", "key", key, "error", err)
	}

	return d.fallback.Get(ctx, key)
}

func (d *Dual) Set(ctx context.Context, key string, value []byte) error {
	primaryErr := d.primary.Set(ctx, key, value)
	if primaryErr != nil {
		d.logger.Warn("storage: primary write failed", "key", key, "error", primaryErr)
	}

	if d.fallback == nil {
		return primaryErr
	}

	fallbackErr := d.fallback.Set(ctx, key, value)
	if primaryErr != nil && fallbackErr != nil {
		return fmt.Errorf("storage: both backends failed: primary: %v; fallback: %w",
			primaryErr, fallbackErr)
	}
	if fallbackErr != nil {
		d.logger.Warn("storage: fallback write failed", "key", key, "error", fallbackErr)
	}

	return nil
}

// Delete removes the key from both backends. Failures are logged, not
// raised, so cleanup never blocks a disconnect.
func (d *Dual) Delete(ctx context.Context, key string) error {
	if err := d.primary.Delete(ctx, key); err != nil {
		d.logger.Warn("storage: primary delete failed", "key", key, "error", err)
	}
	if d.fallback != nil {
		if err := d.fallback.Delete(ctx, key); err != nil {
			d.logger.Warn("storage: fallback delete failed", "key", key, "error", err)
		}
	}
	return nil
}

func (d *Dual) Close() error {
	err := d.primary.Close()
	if d.fallback != nil {
		if ferr := d.fallback.Close(); err == nil {
			err = ferr
		}
	}
	return err
}
