// Package credstore persists session credentials across two storage scopes:
// a persistent scope that survives process restarts (SQLite, encrypted at
// rest) and an ephemeral scope that lives only as long as the process.
//
// The store is deliberately dumb: it moves bytes and nothing else. Which
// scope is written, and when the other one is cleared, is the session
// manager's decision.
package credstore

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Scope selects a credential storage lifetime.
type Scope int

const (
	// Persistent survives process restarts ("remember me").
	Persistent Scope = iota
	// Ephemeral is cleared when the process ends.
	Ephemeral
)

// Well-known credential keys.
const (
	KeyTokens = "auth_tokens"
	KeyUser   = "auth_user"
)

// ErrNotFound is returned by Read when a key has no value in the scope.
var ErrNotFound = errors.New("credstore: key not found")

func (s Scope) String() string {
	if s == Persistent {
		return "persistent"
	}
	return "ephemeral"
}

// Backend is a single-scope key-value store.
type Backend interface {
	Write(key string, value []byte) error
	Read(key string) ([]byte, error)
	Remove(key string) error
	Clear() error
}

// Store multiplexes credential reads and writes across the two scopes.
// All operations are best effort: backend failures are logged and swallowed,
// degrading to "no persistence" rather than surfacing to callers.
type Store struct {
	persistent Backend
	ephemeral  Backend
}

// New creates a Store over the given scope backends.
func New(persistent, ephemeral Backend) *Store {
	return &Store{persistent: persistent, ephemeral: ephemeral}
}

func (s *Store) backend(scope Scope) Backend {
	if scope == Persistent {
		return s.persistent
	}
	return s.ephemeral
}

// Write stores value under key in the given scope.
func (s *Store) Write(scope Scope, key string, value []byte) {
	if err := s.backend(scope).Write(key, value); err != nil {
		log.Warn().Err(err).Stringer("scope", scope).Str("key", key).
			Msg("credential write failed, continuing without persistence")
	}
}

// Read returns the value stored under key in the given scope, or nil if the
// key is absent or the backend failed.
func (s *Store) Read(scope Scope, key string) []byte {
	value, err := s.backend(scope).Read(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Stringer("scope", scope).Str("key", key).
				Msg("credential read failed")
		}
		return nil
	}
	return value
}

// Remove deletes key from the given scope.
func (s *Store) Remove(scope Scope, key string) {
	if err := s.backend(scope).Remove(key); err != nil {
		log.Warn().Err(err).Stringer("scope", scope).Str("key", key).
			Msg("credential remove failed")
	}
}

// ClearScope removes every key from the given scope.
func (s *Store) ClearScope(scope Scope) {
	if err := s.backend(scope).Clear(); err != nil {
		log.Warn().Err(err).Stringer("scope", scope).
			Msg("credential scope clear failed")
	}
}

// ClearAll wipes both scopes.
func (s *Store) ClearAll() {
	s.ClearScope(Persistent)
	s.ClearScope(Ephemeral)
}

// MemoryBackend is the ephemeral scope: an in-process map.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Write(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	m.data[key] = buf
	return nil
}

func (m *MemoryBackend) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, nil
}

func (m *MemoryBackend) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}
