package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Logger receives failover records. Default: slog.Default().
	Logger *slog.Logger
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries a primary value and then each fallback in the order
// they were added. Entries are fixed after construction, so calls need no
// locking beyond what the breakers do.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first
// entry.
func NewFallbackGroup[T any](primaryName string, primary T, cfg FallbackConfig, fallbacks ...Named[T]) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CircuitBreaker.Logger == nil {
		cfg.CircuitBreaker.Logger = cfg.Logger
	}
	g := &FallbackGroup[T]{cfg: cfg, log: cfg.Logger}
	g.add(primaryName, primary)
	for _, f := range fallbacks {
		g.add(f.Name, f.Value)
	}
	return g
}

// Named pairs a fallback value with the name used in logs and errors.
type Named[T any] struct {
	Name  string
	Value T
}

func (g *FallbackGroup[T]) add(name string, v T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.entries = append(g.entries, fallbackEntry[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Names returns the entry names in try order.
func (g *FallbackGroup[T]) Names() []string {
	out := make([]string, len(g.entries))
	for i, e := range g.entries {
		out[i] = e.name
	}
	return out
}

// State returns the breaker state of the named entry. Unknown names report
// [StateClosed].
func (g *FallbackGroup[T]) State(name string) State {
	for _, e := range g.entries {
		if e.name == name {
			return e.breaker.State()
		}
	}
	return StateClosed
}

// Execute calls fn on each entry until one succeeds and returns the name of
// that entry. When all fail the error wraps [ErrAllFailed] together with
// every entry's error.
func (g *FallbackGroup[T]) Execute(fn func(T) error) (string, error) {
	_, served, err := ExecuteWithResult(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return served, err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a function because methods cannot declare type parameters.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var errs []error
	for i := range g.entries {
		e := &g.entries[i]
		var res R
		err := e.breaker.Execute(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		if err == nil {
			if i > 0 {
				g.log.Debug("resilience: served by fallback", "backend", e.name)
			}
			return res, e.name, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			g.log.Debug("resilience: skipping backend, circuit open", "backend", e.name)
		} else {
			g.log.Warn("resilience: backend failed, trying next", "backend", e.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	var zero R
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
