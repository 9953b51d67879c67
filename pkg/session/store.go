package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nyknyc/nyknyc-go/pkg/storage"
)

// Namespaced storage keys. One JSON record per key.
const (
	sessionKey     = "nyknyc:session"
	pendingAuthKey = "nyknyc:pending_auth"
)

// Store persists Session and PendingAuth records on a storage backend
// (usually a storage.Dual combining a durable primary with an in-memory
// fallback).
type Store struct {
	backend storage.Backend
	logger  *slog.Logger
}

// NewStore creates a session store on the given backend.
func NewStore(backend storage.Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

// Load reads the persisted session. A missing, unparsable or structurally
// invalid record returns (nil, nil); corrupt records are deleted on the way
// out. Load never fails the caller for bad persisted state.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	raw, err := s.backend.Get(ctx, sessionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil || !sess.structurallyValid() {
		s.logger.Warn("session: deleting corrupt persisted session record")
		_ = s.backend.Delete(ctx, sessionKey)
		return nil, nil
	}

	return &sess, nil
}

// Save serializes and persists the session.
func (s *Store) Save(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.backend.Set(ctx, sessionKey, raw); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Delete removes the persisted session. Failures are logged, not raised, so
// cleanup never blocks a disconnect.
func (s *Store) Delete(ctx context.Context) {
	if err := s.backend.Delete(ctx, sessionKey); err != nil {
		s.logger.Warn("session: delete failed", "error", err)
	}
}

// SavePendingAuth persists the ephemeral OAuth attempt state.
func (s *Store) SavePendingAuth(ctx context.Context, pending PendingAuth) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("session: marshal pending auth: %w", err)
	}
	if err := s.backend.Set(ctx, pendingAuthKey, raw); err != nil {
		return fmt.Errorf("session: save pending auth: %w", err)
	}
	return nil
}

// LoadPendingAuth reads the pending OAuth attempt, or (nil, nil) when absent
// or corrupt.
func (s *Store) LoadPendingAuth(ctx context.Context) (*PendingAuth, error) {
	raw, err := s.backend.Get(ctx, pendingAuthKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load pending auth: %w", err)
	}

	var pending PendingAuth
	if err := json.Unmarshal(raw, &pending); err != nil || !pending.structurallyValid() {
		_ = s.backend.Delete(ctx, pendingAuthKey)
		return nil, nil
	}

	return &pending, nil
}

// DeletePendingAuth removes the pending OAuth attempt. Best-effort.
func (s *Store) DeletePendingAuth(ctx context.Context) {
	if err := s.backend.Delete(ctx, pendingAuthKey); err != nil {
		s.logger.Warn("session: pending auth delete failed", "error", err)
	}
}
