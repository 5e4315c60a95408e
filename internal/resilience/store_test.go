package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/cuemix/internal/resilience"
	"github.com/MrWong99/cuemix/internal/settings"
)

// flakyStore is a MemStore that can be switched off.
type flakyStore struct {
	*settings.MemStore
	down  atomic.Bool
	saves atomic.Int32
}

func (f *flakyStore) Load(ctx context.Context, group string) (float64, bool, error) {
	if f.down.Load() {
		return 0, false, errBackend
	}
	return f.MemStore.Load(ctx, group)
}

func (f *flakyStore) Save(ctx context.Context, group string, level float64) error {
	f.saves.Add(1)
	if f.down.Load() {
		return errBackend
	}
	return f.MemStore.Save(ctx, group, level)
}

func (f *flakyStore) All(ctx context.Context) (map[string]float64, error) {
	if f.down.Load() {
		return nil, errBackend
	}
	return f.MemStore.All(ctx)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.down.Load() {
		return errBackend
	}
	return f.MemStore.Ping(ctx)
}

func newStore(t *testing.T) (*resilience.Store, *flakyStore) {
	t.Helper()
	primary := &flakyStore{MemStore: settings.NewMemStore(nil)}
	s := resilience.NewStore("postgres", primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1},
		Logger:         quiet(),
	})
	return s, primary
}

func TestStore_Healthy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, primary := newStore(t)

	if err := s.Save(ctx, "Music", 0.4); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := primary.MemStore.Load(ctx, "Music"); !ok || got != 0.4 {
		t.Errorf("primary level = %v, %v; want 0.4", got, ok)
	}
	level, ok, err := s.Load(ctx, "Music")
	if err != nil || !ok || level != 0.4 {
		t.Errorf("Load() = %v, %v, %v", level, ok, err)
	}
	if s.Degraded() {
		t.Error("Degraded() = true on a healthy primary")
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

func TestStore_ServesFromCacheDuringOutage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, primary := newStore(t)

	if err := s.Save(ctx, "Music", 0.4); err != nil {
		t.Fatal(err)
	}
	primary.down.Store(true)

	level, ok, err := s.Load(ctx, "Music")
	if err != nil || !ok || level != 0.4 {
		t.Fatalf("Load() during outage = %v, %v, %v; want cached 0.4", level, ok, err)
	}
	if !s.Degraded() {
		t.Error("Degraded() = false after the primary failed")
	}

	if err := s.Save(ctx, "Effects", 0.7); err != nil {
		t.Fatalf("Save() during outage = %v", err)
	}
	if level, ok, _ := s.Load(ctx, "Effects"); !ok || level != 0.7 {
		t.Errorf("Load(Effects) = %v, %v; want 0.7", level, ok)
	}
	if _, ok, _ := primary.MemStore.Load(ctx, "Effects"); ok {
		t.Error("outage write reached the primary")
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all["Music"] != 0.4 || all["Effects"] != 0.7 {
		t.Errorf("All() = %v", all)
	}
	if err := s.Ping(ctx); !errors.Is(err, errBackend) {
		t.Errorf("Ping() = %v, want backend error", err)
	}
}

func TestStore_RejectsInvalidLevel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, primary := newStore(t)

	for _, level := range []float64{-0.1, 1.5} {
		if err := s.Save(ctx, "Music", level); !errors.Is(err, settings.ErrInvalidLevel) {
			t.Errorf("Save(%v) = %v, want ErrInvalidLevel", level, err)
		}
	}
	if n := primary.saves.Load(); n != 0 {
		t.Errorf("primary saw %d saves, want 0", n)
	}
	if s.Degraded() {
		t.Error("invalid levels tripped the breaker")
	}
}

func TestStore_LoadMirrorsPrimary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := &flakyStore{MemStore: settings.NewMemStore(map[string]float64{"Voice": 0.9})}
	s := resilience.NewStore("postgres", primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1},
		Logger:         quiet(),
	})

	if _, err := s.All(ctx); err != nil {
		t.Fatal(err)
	}
	primary.down.Store(true)
	if level, ok, err := s.Load(ctx, "Voice"); err != nil || !ok || level != 0.9 {
		t.Errorf("Load() = %v, %v, %v; want mirrored 0.9", level, ok, err)
	}
}
