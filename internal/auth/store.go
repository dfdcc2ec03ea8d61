// Package auth keeps the client's bearer token in local storage.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"wealthflow/internal/log"
	"wealthflow/internal/storage"
)

// Store holds the bearer token. A token set through configuration is used
// until one is written to storage.
type Store struct {
	kv       storage.KV
	fallback string
	logger   *log.Logger

	mu      sync.RWMutex
	cached  string
	loaded  bool
	cleared bool
}

func NewStore(kv storage.KV, fallback string, logger *log.Logger) *Store {
	return &Store{
		kv:       kv,
		fallback: strings.TrimSpace(fallback),
		logger:   log.OrNop(logger).WithComponent(log.ComponentIdentity),
	}
}

// Token returns the stored token, or "" when none is available
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.loaded {
		tok := s.cached
		s.mu.RUnlock()
		return tok, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cached, nil
	}
	raw, err := s.kv.Get(ctx, storage.KeyToken)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if !s.cleared {
			s.cached = s.fallback
		}
	case err != nil:
		return "", fmt.Errorf("failed to read token: %w", err)
	default:
		s.cached = strings.TrimSpace(string(raw))
	}
	s.loaded = true
	return s.cached, nil
}

// Set stores a new token
func (s *Store) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	if err := s.kv.Put(ctx, storage.KeyToken, []byte(token)); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	s.mu.Lock()
	s.cached, s.loaded, s.cleared = token, true, false
	s.mu.Unlock()
	return nil
}

// Clear forgets the token, including any configured fallback
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cached, s.loaded, s.cleared = "", true, true
	s.mu.Unlock()

	if err := s.kv.Delete(ctx, storage.KeyToken); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	s.logger.InfoContext(ctx, "Stored credentials cleared")
	return nil
}

// Invalidate is registered as the gateway's unauthorized hook
func (s *Store) Invalidate(ctx context.Context) {
	if err := s.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to clear credentials", log.FieldError, err.Error())
	}
}

// HasToken reports whether a token is available
func (s *Store) HasToken(ctx context.Context) bool {
	tok, err := s.Token(ctx)
	return err == nil && tok != ""
}
