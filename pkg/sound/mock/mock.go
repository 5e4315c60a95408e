// Package mock provides in-memory test doubles for the collaborator interfaces
// in [sound]: [sound.Catalog], [sound.MixerService], [sound.Loader],
// [sound.VoiceFactory], [sound.Channel] and [sound.Rand].
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	factory := &mock.VoiceFactory{}
//	loader := &mock.Loader{Resident: map[string]time.Duration{"hit.wav": time.Second}}
//	catalog := mock.NewCatalog(sound.ClipDefinition{Name: "Hit", ...})
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/cuemix/pkg/sound"
)

// ─── Catalog ──────────────────────────────────────────────────────────────────

// Catalog is a mock implementation of [sound.Catalog] backed by a slice.
type Catalog struct {
	mu sync.Mutex

	// Defs holds the definitions served by Lookup, in catalog order.
	Defs []sound.ClipDefinition

	// LookupCalls records the name argument of every Lookup call.
	LookupCalls []string
}

// NewCatalog returns a Catalog serving defs with defaults applied.
func NewCatalog(defs ...sound.ClipDefinition) *Catalog {
	c := &Catalog{}
	for _, d := range defs {
		d.ApplyDefaults()
		c.Defs = append(c.Defs, d)
	}
	return c
}

// Lookup implements [sound.Catalog].
func (c *Catalog) Lookup(name string) (sound.ClipDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LookupCalls = append(c.LookupCalls, name)
	for _, d := range c.Defs {
		if d.Name == name {
			return d, nil
		}
	}
	return sound.ClipDefinition{}, fmt.Errorf("mock: %q: %w", name, sound.ErrUnknownClip)
}

// Definitions implements [sound.Catalog].
func (c *Catalog) Definitions() []sound.ClipDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sound.ClipDefinition, len(c.Defs))
	copy(out, c.Defs)
	return out
}

// ─── MixerService ─────────────────────────────────────────────────────────────

// Handle is a mock [sound.RoutingHandle] with a settable gain.
type Handle struct {
	mu   sync.Mutex
	name string
	gain float64
}

// NewHandle returns a handle for group name with unity gain.
func NewHandle(name string) *Handle { return &Handle{name: name, gain: 1} }

// Group implements [sound.RoutingHandle].
func (h *Handle) Group() string { return h.name }

// Gain implements [sound.RoutingHandle].
func (h *Handle) Gain() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gain
}

// SetGain changes the value returned by Gain.
func (h *Handle) SetGain(g float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gain = g
}

// LevelCall records a single [MixerService.SetGroupLevel] invocation.
type LevelCall struct {
	Group         string
	AttenuationDB float64
}

// PersistCall records a single [MixerService.PersistLevel] invocation.
type PersistCall struct {
	Group string
	Level float64
}

// MixerService is a mock implementation of [sound.MixerService] and
// [sound.LevelPersister].
type MixerService struct {
	mu      sync.Mutex
	handles map[string]*Handle

	// Defaults holds the values returned by GetPersistedDefault. Missing
	// groups report 1.
	Defaults map[string]float64

	// DefaultError is returned by GetPersistedDefault when non-nil.
	DefaultError error

	// SetLevelError is returned by SetGroupLevel when non-nil.
	SetLevelError error

	// PersistError is returned by PersistLevel when non-nil.
	PersistError error

	// LevelCalls records every SetGroupLevel call in order.
	LevelCalls []LevelCall

	// PersistCalls records every PersistLevel call in order.
	PersistCalls []PersistCall

	// CallCountResolveGroup records how many times ResolveGroup was called.
	CallCountResolveGroup int
}

// NewMixerService returns a MixerService that knows the given groups.
func NewMixerService(groups ...string) *MixerService {
	m := &MixerService{handles: make(map[string]*Handle), Defaults: make(map[string]float64)}
	for _, g := range groups {
		m.handles[g] = NewHandle(g)
	}
	return m
}

// HandleFor returns the handle registered for name, or nil.
func (m *MixerService) HandleFor(name string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[name]
}

// ResolveGroup implements [sound.MixerService].
func (m *MixerService) ResolveGroup(name string) (sound.RoutingHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountResolveGroup++
	h, ok := m.handles[name]
	if !ok {
		return nil, fmt.Errorf("mock: %q: %w", name, sound.ErrUnknownGroup)
	}
	return h, nil
}

// SetGroupLevel implements [sound.MixerService].
func (m *MixerService) SetGroupLevel(h sound.RoutingHandle, attenuationDB float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LevelCalls = append(m.LevelCalls, LevelCall{Group: h.Group(), AttenuationDB: attenuationDB})
	return m.SetLevelError
}

// GetPersistedDefault implements [sound.MixerService].
func (m *MixerService) GetPersistedDefault(_ context.Context, name string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DefaultError != nil {
		return 0, m.DefaultError
	}
	if v, ok := m.Defaults[name]; ok {
		return v, nil
	}
	return 1, nil
}

// PersistLevel implements [sound.LevelPersister].
func (m *MixerService) PersistLevel(_ context.Context, name string, level float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistCalls = append(m.PersistCalls, PersistCall{Group: name, Level: level})
	return m.PersistError
}

// LastLevel returns the most recent attenuation applied to group and whether
// any was applied.
func (m *MixerService) LastLevel(group string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.LevelCalls) - 1; i >= 0; i-- {
		if m.LevelCalls[i].Group == group {
			return m.LevelCalls[i].AttenuationDB, true
		}
	}
	return 0, false
}

// ─── Loader ───────────────────────────────────────────────────────────────────

// Loader is a mock implementation of [sound.Loader]. Assets listed in Resident
// are reported as decoded; every other asset stays pending until the test
// calls [Loader.Complete].
type Loader struct {
	mu      sync.Mutex
	pending map[string][]chan sound.LoadResult

	// Resident maps asset paths to their decoded duration.
	Resident map[string]time.Duration

	// RequestCalls records the asset path of every RequestLoad call.
	RequestCalls []string
}

// IsResident implements [sound.Loader].
func (l *Loader) IsResident(a sound.Asset) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.Resident[a.Path]
	return d, ok
}

// RequestLoad implements [sound.Loader].
func (l *Loader) RequestLoad(a sound.Asset) <-chan sound.LoadResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.RequestCalls = append(l.RequestCalls, a.Path)
	ch := make(chan sound.LoadResult, 1)
	if d, ok := l.Resident[a.Path]; ok {
		ch <- sound.LoadResult{Duration: d}
		return ch
	}
	if l.pending == nil {
		l.pending = make(map[string][]chan sound.LoadResult)
	}
	l.pending[a.Path] = append(l.pending[a.Path], ch)
	return ch
}

// Complete finishes every pending load of path. On success the asset becomes
// resident with duration d.
func (l *Loader) Complete(path string, d time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		if l.Resident == nil {
			l.Resident = make(map[string]time.Duration)
		}
		l.Resident[path] = d
	} else {
		d = 0
	}
	for _, ch := range l.pending[path] {
		ch <- sound.LoadResult{Duration: d, Err: err}
	}
	delete(l.pending, path)
}

// ─── Channel / VoiceFactory ───────────────────────────────────────────────────

// StartCall records a single [Channel.Start] invocation.
type StartCall struct {
	Asset sound.Asset
	Pitch float64
}

// Channel is a mock implementation of [sound.Channel].
type Channel struct {
	mu sync.Mutex

	// StartError is returned by Start when non-nil.
	StartError error

	// Starts records every Start call in order.
	Starts []StartCall

	// Volumes records every SetVolume argument in order.
	Volumes []float64

	// Pitches records every SetPitch argument in order.
	Pitches []float64

	// Routed is the handle passed to the most recent Route call.
	Routed sound.RoutingHandle

	// Playing reports whether Start was called more recently than Stop.
	Playing bool

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Start implements [sound.Channel].
func (c *Channel) Start(a sound.Asset, pitch float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Starts = append(c.Starts, StartCall{Asset: a, Pitch: pitch})
	if c.StartError != nil {
		return c.StartError
	}
	c.Playing = true
	return nil
}

// SetVolume implements [sound.Channel].
func (c *Channel) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Volumes = append(c.Volumes, v)
}

// SetPitch implements [sound.Channel].
func (c *Channel) SetPitch(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pitches = append(c.Pitches, p)
}

// Route implements [sound.Channel].
func (c *Channel) Route(h sound.RoutingHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Routed = h
}

// Stop implements [sound.Channel].
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	c.Playing = false
}

// Close implements [sound.Channel].
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.Playing = false
	return nil
}

// Volume returns the most recent SetVolume argument, or 0.
func (c *Channel) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Volumes) == 0 {
		return 0
	}
	return c.Volumes[len(c.Volumes)-1]
}

// IsPlaying reports the Playing flag under the lock.
func (c *Channel) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Playing
}

// StartCount returns the number of Start calls.
func (c *Channel) StartCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Starts)
}

// LastStart returns the most recent Start call.
func (c *Channel) LastStart() StartCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Starts) == 0 {
		return StartCall{}
	}
	return c.Starts[len(c.Starts)-1]
}

// VoiceFactory is a mock implementation of [sound.VoiceFactory].
type VoiceFactory struct {
	mu sync.Mutex

	// CreateError is returned by CreateVoice when non-nil.
	CreateError error

	// Channels holds every channel created, in creation order.
	Channels []*Channel
}

// CreateVoice implements [sound.VoiceFactory].
func (f *VoiceFactory) CreateVoice() (sound.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateError != nil {
		return nil, f.CreateError
	}
	c := &Channel{}
	f.Channels = append(f.Channels, c)
	return c, nil
}

// Created returns the number of channels created so far.
func (f *VoiceFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Channels)
}

// ─── Rand ─────────────────────────────────────────────────────────────────────

// Rand is a deterministic [sound.Rand]. Floats and Ints are replayed
// cyclically; an empty slice yields zeros.
type Rand struct {
	mu sync.Mutex

	Floats []float64
	Ints   []int

	CallCountFloat64 int
	CallCountIntN    int
}

// Float64 implements [sound.Rand].
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.CallCountFloat64
	r.CallCountFloat64++
	if len(r.Floats) == 0 {
		return 0
	}
	return r.Floats[i%len(r.Floats)]
}

// IntN implements [sound.Rand].
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.CallCountIntN
	r.CallCountIntN++
	if len(r.Ints) == 0 || n <= 0 {
		return 0
	}
	return r.Ints[i%len(r.Ints)] % n
}

// Compile-time interface assertions.
var (
	_ sound.Catalog        = (*Catalog)(nil)
	_ sound.MixerService   = (*MixerService)(nil)
	_ sound.LevelPersister = (*MixerService)(nil)
	_ sound.RoutingHandle  = (*Handle)(nil)
	_ sound.Loader         = (*Loader)(nil)
	_ sound.Channel        = (*Channel)(nil)
	_ sound.VoiceFactory   = (*VoiceFactory)(nil)
	_ sound.Rand           = (*Rand)(nil)
)
