// Package bus implements the mixer service: a tree of named output buses
// rooted at [sound.DefaultMixerGroup], each carrying an attenuation that
// multiplies into every bus below it. Levels chosen by the user are persisted
// through a [settings.Store]; groups never saved fall back to their
// configured default.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/cuemix/internal/settings"
	"github.com/MrWong99/cuemix/pkg/sound"
)

// Compile-time interface assertions.
var (
	_ sound.MixerService   = (*Bus)(nil)
	_ sound.LevelPersister = (*Bus)(nil)
	_ sound.RoutingHandle  = (*Group)(nil)
)

// ErrForeignHandle is returned by [Bus.SetGroupLevel] for handles that were
// not resolved by the same bus.
var ErrForeignHandle = errors.New("bus: handle belongs to another mixer")

// Config declares one bus.
type Config struct {
	Name string `yaml:"name"`

	// Parent names the bus this one feeds into. Empty means the root bus.
	Parent string `yaml:"parent"`

	// Default is the linear level in [0,1] used until the user saves one.
	Default float64 `yaml:"default"`
}

// Group is one bus. It implements [sound.RoutingHandle]; Gain is lock-free and
// may be read from audio callbacks.
type Group struct {
	name   string
	parent *Group
	def    float64
	bits   atomic.Uint64
}

// Group implements [sound.RoutingHandle].
func (g *Group) Group() string { return g.name }

// Gain implements [sound.RoutingHandle]. It returns the product of this bus's
// own gain and the gains of all its ancestors.
func (g *Group) Gain() float64 {
	v := 1.0
	for b := g; b != nil; b = b.parent {
		v *= b.Own()
	}
	return v
}

// Own returns the gain of this bus alone.
func (g *Group) Own() float64 { return math.Float64frombits(g.bits.Load()) }

// Parent returns the name of the parent bus, or "" for the root.
func (g *Group) Parent() string {
	if g.parent == nil {
		return ""
	}
	return g.parent.name
}

func (g *Group) setOwn(v float64) { g.bits.Store(math.Float64bits(v)) }

// Option configures a [Bus] during construction.
type Option func(*Bus)

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// Bus is a [sound.MixerService] over a fixed tree of groups.
//
// All methods are safe for concurrent use.
type Bus struct {
	store settings.Store
	log   *slog.Logger

	mu     sync.RWMutex
	groups map[string]*Group
	order  []string
}

// New builds the bus tree from cfgs. The root bus [sound.DefaultMixerGroup]
// is added when cfgs does not declare it. Groups start at unity gain; the
// router applies their levels during initialization. A nil store keeps levels
// in memory only.
func New(cfgs []Config, store settings.Store, opts ...Option) (*Bus, error) {
	if err := Validate(cfgs); err != nil {
		return nil, err
	}
	if store == nil {
		store = &settings.MemStore{}
	}
	b := &Bus{
		store:  store,
		log:    slog.Default(),
		groups: make(map[string]*Group, len(cfgs)+1),
	}
	for _, o := range opts {
		o(b)
	}

	byName := make(map[string]Config, len(cfgs)+1)
	for _, c := range cfgs {
		byName[c.Name] = c
	}
	if _, ok := byName[sound.DefaultMixerGroup]; !ok {
		root := Config{Name: sound.DefaultMixerGroup, Default: 1}
		byName[root.Name] = root
		cfgs = append([]Config{root}, cfgs...)
	}

	var build func(name string) *Group
	build = func(name string) *Group {
		if g, ok := b.groups[name]; ok {
			return g
		}
		c := byName[name]
		g := &Group{name: name, def: c.Default}
		g.setOwn(1)
		if name != sound.DefaultMixerGroup {
			parent := c.Parent
			if parent == "" {
				parent = sound.DefaultMixerGroup
			}
			g.parent = build(parent)
		}
		b.groups[name] = g
		b.order = append(b.order, name)
		return g
	}
	for _, c := range cfgs {
		build(c.Name)
	}
	return b, nil
}

// Validate checks a bus configuration: unique non-empty names, defaults in
// [0,1], known parents and no cycles.
func Validate(cfgs []Config) error {
	var errs []error
	names := make(map[string]Config, len(cfgs))
	for i, c := range cfgs {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("groups[%d]: name is required", i))
			continue
		}
		if _, dup := names[c.Name]; dup {
			errs = append(errs, fmt.Errorf("groups[%d]: duplicate group %q", i, c.Name))
			continue
		}
		if c.Default < 0 || c.Default > 1 {
			errs = append(errs, fmt.Errorf("groups[%d]: default %.2f is out of range [0, 1]", i, c.Default))
		}
		if c.Name == sound.DefaultMixerGroup && c.Parent != "" {
			errs = append(errs, fmt.Errorf("groups[%d]: root group %q cannot have a parent", i, c.Name))
		}
		names[c.Name] = c
	}
	for i, c := range cfgs {
		if c.Parent == "" || c.Parent == sound.DefaultMixerGroup {
			continue
		}
		if _, ok := names[c.Parent]; !ok {
			errs = append(errs, fmt.Errorf("groups[%d]: parent %q of %q is not declared", i, c.Parent, c.Name))
			continue
		}
		seen := map[string]bool{c.Name: true}
		for p := c.Parent; p != "" && p != sound.DefaultMixerGroup; p = names[p].Parent {
			if seen[p] {
				errs = append(errs, fmt.Errorf("groups[%d]: %q is part of a parent cycle", i, c.Name))
				break
			}
			seen[p] = true
		}
	}
	return errors.Join(errs...)
}

// ResolveGroup implements [sound.MixerService].
func (b *Bus) ResolveGroup(name string) (sound.RoutingHandle, error) {
	g, err := b.group(name)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// SetGroupLevel implements [sound.MixerService]. The attenuation is converted
// to a linear gain of 10^(dB/20).
func (b *Bus) SetGroupLevel(h sound.RoutingHandle, attenuationDB float64) error {
	g, ok := h.(*Group)
	if !ok || g == nil {
		return ErrForeignHandle
	}
	b.mu.RLock()
	own := b.groups[g.name] == g
	b.mu.RUnlock()
	if !own {
		return ErrForeignHandle
	}
	if math.IsNaN(attenuationDB) {
		return fmt.Errorf("bus: set %q: attenuation is NaN", g.name)
	}
	g.setOwn(math.Pow(10, attenuationDB/20))
	return nil
}

// GetPersistedDefault implements [sound.MixerService]. It returns the level
// saved in the store, or the configured default when none was saved.
func (b *Bus) GetPersistedDefault(ctx context.Context, name string) (float64, error) {
	g, err := b.group(name)
	if err != nil {
		return 0, err
	}
	level, ok, err := b.store.Load(ctx, name)
	if err != nil {
		return g.def, fmt.Errorf("bus: load %q: %w", name, err)
	}
	if !ok {
		return g.def, nil
	}
	return level, nil
}

// PersistLevel implements [sound.LevelPersister].
func (b *Bus) PersistLevel(ctx context.Context, name string, level float64) error {
	if _, err := b.group(name); err != nil {
		return err
	}
	if err := b.store.Save(ctx, name, level); err != nil {
		return fmt.Errorf("bus: save %q: %w", name, err)
	}
	b.log.Debug("bus: level saved", "group", name, "level", level)
	return nil
}

// Names returns every bus name, parents before children.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Ping reports whether the level store is reachable.
func (b *Bus) Ping(ctx context.Context) error { return b.store.Ping(ctx) }

func (b *Bus) group(name string) (*Group, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.groups[name]
	if !ok {
		return nil, fmt.Errorf("bus: %q: %w", name, sound.ErrUnknownGroup)
	}
	return g, nil
}
