package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/cuemix/pkg/sound"
)

// GroupState is a snapshot of one mixer group.
type GroupState struct {
	Name    string  `json:"name"`
	Level   float64 `json:"level"`
	Default float64 `json:"default"`
}

type group struct {
	handle sound.RoutingHandle
	level  float64
	def    float64
}

// Option configures a [Router] during construction.
type Option func(*Router)

// WithLogger sets the logger used for routing diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.log = l
	}
}

// Router caches resolved mixer groups and applies volume changes through a
// [sound.MixerService]. Each group's persisted default is read once, the
// first time the group is resolved, and reused by [Router.ResetToDefault].
//
// All methods are safe for concurrent use.
type Router struct {
	svc   sound.MixerService
	curve Curve
	log   *slog.Logger

	mu     sync.Mutex
	groups map[string]*group
	order  []string
}

// NewRouter returns a Router backed by svc using curve for translation.
func NewRouter(svc sound.MixerService, curve Curve, opts ...Option) *Router {
	r := &Router{
		svc:    svc,
		curve:  curve,
		log:    slog.Default(),
		groups: make(map[string]*group),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Curve returns the volume curve used by the router.
func (r *Router) Curve() Curve { return r.curve }

// Init resolves every named group, reads its persisted default and applies it.
// Unknown groups are logged and skipped; any other failure is returned after
// all groups were attempted. Groups whose level could not be applied stay
// cached so later volume changes can retry.
func (r *Router) Init(ctx context.Context, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, name := range names {
		if _, ok := r.groups[name]; ok {
			continue
		}
		_, err := r.load(ctx, name)
		if errors.Is(err, sound.ErrUnknownGroup) {
			r.log.Warn("mixer: skipping unknown group", "group", name)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the routing handle for name. Groups not seen by Init are
// resolved and cached on first use. The error wraps [sound.ErrUnknownGroup]
// for names the mixer service does not know.
func (r *Router) Resolve(name string) (sound.RoutingHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.lookup(context.Background(), name)
	if err != nil {
		return nil, err
	}
	return g.handle, nil
}

// SetGroupVolume sets the linear level of a group, clamped to [0,1], applies
// the translated attenuation and persists the level when the mixer service
// supports it.
func (r *Router) SetGroupVolume(ctx context.Context, name string, level float64) error {
	level = min(max(level, 0), 1)

	r.mu.Lock()
	g, err := r.lookup(ctx, name)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.svc.SetGroupLevel(g.handle, r.curve.Translate(level)); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("mixer: set %q: %w", name, err)
	}
	g.level = level
	r.mu.Unlock()

	if p, ok := r.svc.(sound.LevelPersister); ok {
		if err := p.PersistLevel(ctx, name, level); err != nil {
			return fmt.Errorf("mixer: persist %q: %w", name, err)
		}
	}
	return nil
}

// GroupVolume returns the current linear level of a group.
func (r *Router) GroupVolume(name string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.lookup(context.Background(), name)
	if err != nil {
		return 0, err
	}
	return g.level, nil
}

// ResetToDefault re-applies every cached default level. Reset levels are
// persisted when the mixer service supports it.
func (r *Router) ResetToDefault(ctx context.Context) error {
	r.mu.Lock()
	var (
		errs  []error
		reset []GroupState
	)
	for _, name := range r.order {
		g := r.groups[name]
		if err := r.svc.SetGroupLevel(g.handle, r.curve.Translate(g.def)); err != nil {
			errs = append(errs, fmt.Errorf("mixer: reset %q: %w", name, err))
			continue
		}
		g.level = g.def
		reset = append(reset, GroupState{Name: name, Level: g.def, Default: g.def})
	}
	r.mu.Unlock()

	if p, ok := r.svc.(sound.LevelPersister); ok {
		for _, s := range reset {
			if err := p.PersistLevel(ctx, s.Name, s.Level); err != nil {
				errs = append(errs, fmt.Errorf("mixer: persist %q: %w", s.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Groups returns a snapshot of every cached group in resolution order.
func (r *Router) Groups() []GroupState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GroupState, 0, len(r.order))
	for _, name := range r.order {
		g := r.groups[name]
		out = append(out, GroupState{Name: name, Level: g.level, Default: g.def})
	}
	return out
}

// lookup returns the cached group or loads it. Caller holds r.mu.
func (r *Router) lookup(ctx context.Context, name string) (*group, error) {
	if g, ok := r.groups[name]; ok {
		return g, nil
	}
	g, err := r.load(ctx, name)
	if g != nil && err != nil {
		r.log.Warn("mixer: could not apply default level", "group", name, "err", err)
		return g, nil
	}
	return g, err
}

// load resolves name, reads its default, caches the group and applies the
// default level. Caller holds r.mu.
func (r *Router) load(ctx context.Context, name string) (*group, error) {
	h, err := r.svc.ResolveGroup(name)
	if err != nil {
		return nil, fmt.Errorf("mixer: resolve %q: %w", name, err)
	}
	def, err := r.svc.GetPersistedDefault(ctx, name)
	if err != nil {
		r.log.Warn("mixer: persisted default unavailable, using full level", "group", name, "err", err)
		def = 1
	}
	def = min(max(def, 0), 1)
	g := &group{handle: h, level: def, def: def}
	r.groups[name] = g
	r.order = append(r.order, name)
	if err := r.svc.SetGroupLevel(h, r.curve.Translate(def)); err != nil {
		return g, fmt.Errorf("mixer: apply %q: %w", name, err)
	}
	return g, nil
}
