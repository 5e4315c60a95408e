package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/cuemix/internal/settings"
)

// cacheName labels the in-memory entry of a [Store].
const cacheName = "memory"

// Store is a [settings.Store] that keeps serving when its primary backend
// is down. Every level read from or written to the primary is mirrored in
// an in-memory cache; while the primary's breaker is open, reads and writes
// go to the cache only. Levels written during an outage are not replayed
// to the primary once it recovers.
type Store struct {
	primary     settings.Store
	primaryName string
	cache       *settings.MemStore
	group       *FallbackGroup[settings.Store]
	log         *slog.Logger
}

var _ settings.Store = (*Store)(nil)

// NewStore wraps primary. cfg.Logger also becomes the store's logger.
func NewStore(name string, primary settings.Store, cfg FallbackConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cache := settings.NewMemStore(nil)
	return &Store{
		primary:     primary,
		primaryName: name,
		cache:       cache,
		group: NewFallbackGroup[settings.Store](name, primary, cfg,
			Named[settings.Store]{Name: cacheName, Value: cache}),
		log: cfg.Logger,
	}
}

// Degraded reports whether the primary's breaker is not closed.
func (s *Store) Degraded() bool {
	return s.group.State(s.primaryName) != StateClosed
}

type loadResult struct {
	level float64
	ok    bool
}

// Load implements [settings.Store].
func (s *Store) Load(ctx context.Context, group string) (float64, bool, error) {
	res, served, err := ExecuteWithResult(s.group, func(st settings.Store) (loadResult, error) {
		level, ok, err := st.Load(ctx, group)
		return loadResult{level, ok}, err
	})
	if err != nil {
		return 0, false, fmt.Errorf("resilience: load %q: %w", group, err)
	}
	if served == s.primaryName && res.ok {
		s.mirror(ctx, group, res.level)
	}
	return res.level, res.ok, nil
}

// Save implements [settings.Store]. Out-of-range levels are rejected before
// any backend is tried so they never count against the breaker.
func (s *Store) Save(ctx context.Context, group string, level float64) error {
	if level < 0 || level > 1 || math.IsNaN(level) {
		return fmt.Errorf("%w: %q = %v", settings.ErrInvalidLevel, group, level)
	}
	served, err := s.group.Execute(func(st settings.Store) error {
		return st.Save(ctx, group, level)
	})
	if err != nil {
		return fmt.Errorf("resilience: save %q: %w", group, err)
	}
	if served == s.primaryName {
		s.mirror(ctx, group, level)
	} else {
		s.log.Warn("resilience: level kept in memory only", "group", group, "level", level)
	}
	return nil
}

// All implements [settings.Store].
func (s *Store) All(ctx context.Context) (map[string]float64, error) {
	levels, served, err := ExecuteWithResult(s.group, func(st settings.Store) (map[string]float64, error) {
		return st.All(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("resilience: list: %w", err)
	}
	if served == s.primaryName {
		for g, l := range levels {
			s.mirror(ctx, g, l)
		}
	}
	return levels, nil
}

// Ping implements [settings.Store]. It reports the primary's reachability
// directly so readiness reflects the real backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.primary.Ping(ctx)
}

func (s *Store) mirror(ctx context.Context, group string, level float64) {
	if err := s.cache.Save(ctx, group, level); err != nil {
		s.log.Debug("resilience: cache write skipped", "group", group, "err", err)
	}
}
