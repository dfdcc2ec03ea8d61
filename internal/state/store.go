// Package state holds the client's application state as a sequence of
// immutable snapshots with synchronous change listeners and selective
// persistence of UI preferences.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"wealthflow/internal/log"
	"wealthflow/internal/storage"
)

// Listener observes every state change
type Listener func(prev, next Snapshot)

// Store owns the current snapshot
type Store struct {
	kv          storage.KV
	persistKeys []string
	source      Source
	logger      *log.Logger
	now         func() time.Time

	mu        sync.RWMutex
	current   Snapshot
	nextID    int
	listeners []listenerEntry

	persistMu        sync.Mutex
	persistedVersion uint64
}

type listenerEntry struct {
	id int
	fn Listener
}

// Option configures a Store
type Option func(*Store)

// WithPersistKeys selects the top-level keys written to local storage
func WithPersistKeys(keys ...string) Option {
	return func(s *Store) { s.persistKeys = keys }
}

func WithSource(src Source) Option {
	return func(s *Store) { s.source = src }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a store and restores persisted keys. A nil kv disables persistence.
func New(ctx context.Context, kv storage.KV, opts ...Option) (*Store, error) {
	s := &Store{
		kv:          kv,
		persistKeys: []string{"ui"},
		current:     Initial(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNop(s.logger).WithComponent(log.ComponentState)

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// GetState returns the current snapshot
func (s *Store) GetState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update replaces the snapshot with fn(current) and notifies listeners.
// fn must build new slices instead of writing into the ones it receives.
func (s *Store) Update(fn func(Snapshot) Snapshot) Snapshot {
	s.mu.Lock()
	prev := s.current
	next := fn(prev)
	next.Version = prev.Version + 1
	s.current = next
	listeners := append([]listenerEntry(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		s.notify(l.fn, prev, next)
	}
	s.persist(next)
	return next
}

// Merge shallow-merges p into the snapshot
func (s *Store) Merge(p Patch) Snapshot {
	return s.Update(p.apply)
}

// Subscribe registers l and returns its unsubscribe func
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.listeners {
				if e.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) notify(fn Listener, prev, next Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("State listener panicked",
				log.FieldError, fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn(prev, next)
}

func (s *Store) load(ctx context.Context) error {
	if s.kv == nil || len(s.persistKeys) == 0 {
		return nil
	}
	var saved map[string]json.RawMessage
	found, err := storage.GetJSON(ctx, s.kv, storage.KeyState, &saved)
	if err != nil {
		// corrupt state is not fatal, the UI falls back to defaults
		s.logger.Warn("Failed to load persisted state", log.FieldError, err.Error())
		return nil
	}
	if !found {
		return nil
	}

	selected := make(map[string]json.RawMessage, len(s.persistKeys))
	for _, key := range s.persistKeys {
		if v, ok := saved[key]; ok {
			selected[key] = v
		}
	}
	raw, err := json.Marshal(selected)
	if err != nil {
		return fmt.Errorf("failed to re-encode persisted state: %w", err)
	}
	restored := s.current
	if err := json.Unmarshal(raw, &restored); err != nil {
		s.logger.Warn("Ignoring unreadable persisted state", log.FieldError, err.Error())
		return nil
	}
	if restored.UI.Errors == nil {
		restored.UI.Errors = []UIError{}
	}
	s.current = restored
	s.logger.Debug("Loaded persisted state", "keys", len(selected))
	return nil
}

func (s *Store) persist(next Snapshot) {
	if s.kv == nil || len(s.persistKeys) == 0 {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if next.Version < s.persistedVersion {
		return
	}

	if err := s.writePersisted(next); err != nil {
		s.logger.Warn("Failed to persist state", log.FieldError, err.Error())
		return
	}
	s.persistedVersion = next.Version
}

func (s *Store) writePersisted(snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}
	out := make(map[string]json.RawMessage, len(s.persistKeys))
	for _, key := range s.persistKeys {
		if v, ok := all[key]; ok {
			out[key] = v
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return storage.PutJSON(ctx, s.kv, storage.KeyState, out)
}

// ClearPersisted removes the persisted keys from local storage
func (s *Store) ClearPersisted(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	if err := s.kv.Delete(ctx, storage.KeyState); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to clear persisted state: %w", err)
	}
	return nil
}
