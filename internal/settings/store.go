// Package settings persists user-chosen mixer group levels between runs.
//
// Three backends are provided: [MemStore] for tests and ephemeral runs,
// [FileStore] writing a small YAML document, and [PostgresStore] for
// deployments that already run a database. All of them implement [Store].
package settings

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"
)

// ErrInvalidLevel is returned when a level outside [0, 1] is saved.
var ErrInvalidLevel = errors.New("settings: level must be within [0, 1]")

// Store loads and saves linear group levels in [0, 1].
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the saved level of group. ok is false when nothing was
	// saved for it yet.
	Load(ctx context.Context, group string) (level float64, ok bool, err error)

	// Save records level for group, replacing any earlier value.
	Save(ctx context.Context, group string, level float64) error

	// All returns every saved level keyed by group name.
	All(ctx context.Context) (map[string]float64, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

func checkLevel(group string, level float64) error {
	if level < 0 || level > 1 || math.IsNaN(level) {
		return fmt.Errorf("%w: %q = %v", ErrInvalidLevel, group, level)
	}
	return nil
}

// MemStore is an in-memory [Store]. The zero value is ready to use.
type MemStore struct {
	mu     sync.RWMutex
	levels map[string]float64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a [MemStore] seeded with initial.
func NewMemStore(initial map[string]float64) *MemStore {
	return &MemStore{levels: maps.Clone(initial)}
}

// Load implements [Store].
func (s *MemStore) Load(_ context.Context, group string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.levels[group]
	return v, ok, nil
}

// Save implements [Store].
func (s *MemStore) Save(_ context.Context, group string, level float64) error {
	if err := checkLevel(group, level); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.levels == nil {
		s.levels = make(map[string]float64)
	}
	s.levels[group] = level
	return nil
}

// All implements [Store].
func (s *MemStore) All(context.Context) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := maps.Clone(s.levels)
	if out == nil {
		out = map[string]float64{}
	}
	return out, nil
}

// Ping implements [Store]. It never fails.
func (s *MemStore) Ping(context.Context) error { return nil }
