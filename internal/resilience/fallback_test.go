package resilience_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/cuemix/internal/resilience"
)

type backend struct {
	err   error
	calls int
}

func (b *backend) do() (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return "ok", nil
}

func newGroup(primary, secondary *backend) *resilience.FallbackGroup[*backend] {
	return resilience.NewFallbackGroup("primary", primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1},
		Logger:         quiet(),
	}, resilience.Named[*backend]{Name: "secondary", Value: secondary})
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	errSecondary := errors.New("secondary down")
	tests := []struct {
		name       string
		primaryErr error
		secondErr  error
		wantServed string
		wantErr    bool
	}{
		{"primary serves", nil, nil, "primary", false},
		{"secondary serves", errBackend, nil, "secondary", false},
		{"all fail", errBackend, errSecondary, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, s := &backend{err: tc.primaryErr}, &backend{err: tc.secondErr}
			g := newGroup(p, s)

			got, served, err := resilience.ExecuteWithResult(g, (*backend).do)
			if served != tc.wantServed {
				t.Errorf("served = %q, want %q", served, tc.wantServed)
			}
			if tc.wantErr {
				for _, target := range []error{resilience.ErrAllFailed, errBackend, errSecondary} {
					if !errors.Is(err, target) {
						t.Errorf("err = %v, want it to wrap %v", err, target)
					}
				}
				return
			}
			if err != nil || got != "ok" {
				t.Errorf("ExecuteWithResult() = %q, %v", got, err)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenPrimary(t *testing.T) {
	t.Parallel()

	p, s := &backend{err: errBackend}, &backend{}
	g := newGroup(p, s)

	for range 3 {
		served, err := g.Execute(func(b *backend) error {
			_, err := b.do()
			return err
		})
		if err != nil || served != "secondary" {
			t.Fatalf("Execute() = %q, %v", served, err)
		}
	}
	if p.calls != 1 {
		t.Errorf("primary called %d times, want 1", p.calls)
	}
	if got := g.State("primary"); got != resilience.StateOpen {
		t.Errorf("State(primary) = %v, want open", got)
	}
	if got := g.State("nope"); got != resilience.StateClosed {
		t.Errorf("State(nope) = %v, want closed", got)
	}
	if got := g.Names(); !slices.Equal(got, []string{"primary", "secondary"}) {
		t.Errorf("Names() = %v", got)
	}
}
