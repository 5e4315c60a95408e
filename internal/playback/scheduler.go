// Package playback implements the frame-driven playback scheduler: play-mode
// conflict resolution, voice leasing, and the fade-in, sustain, fade-out and
// loop envelope of every play instance.
//
// The scheduler is single-threaded and cooperative. It holds no locks; hosts
// that call it from several goroutines must serialize Play, Stop and Tick
// (see the engine package).
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/MrWong99/cuemix/internal/mixer"
	"github.com/MrWong99/cuemix/internal/voice"
	"github.com/MrWong99/cuemix/pkg/sound"
)

// DefaultLoadMargin is added to the declared asset duration when Play has to
// wait for the asset to load.
const DefaultLoadMargin = 250 * time.Millisecond

// ErrBusy is returned by [Scheduler.Play] when a wait-mode definition is
// already playing and the request was dropped.
var ErrBusy = errors.New("playback: definition is already playing")

// Resolver maps mixer group names to routing handles. [*mixer.Router]
// satisfies it.
type Resolver interface {
	Resolve(name string) (sound.RoutingHandle, error)
}

// Overrides are the caller-supplied adjustments of a single play.
type Overrides struct {
	// Volume multiplies the definition's volume scale. 1 leaves it unchanged.
	Volume float64

	// Pitch replaces the random pitch when HasPitch is set.
	Pitch    float64
	HasPitch bool
}

// DefaultOverrides returns overrides that leave the definition unchanged.
func DefaultOverrides() Overrides { return Overrides{Volume: 1} }

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithRand sets the random source used for variant and pitch selection.
func WithRand(r sound.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

// WithLogger sets the logger used for play diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithCurve sets the volume curve used to compute voice target gains.
func WithCurve(c mixer.Curve) Option {
	return func(s *Scheduler) { s.curve = c }
}

// WithLoadMargin overrides [DefaultLoadMargin].
func WithLoadMargin(d time.Duration) Option {
	return func(s *Scheduler) { s.margin = d }
}

// WithFallback names the definition played in place of unknown clips. An
// empty name disables the fallback.
func WithFallback(name string) Option {
	return func(s *Scheduler) { s.fallback = name }
}

// WithPitchPolicy selects when looping plays draw a new random pitch.
func WithPitchPolicy(p PitchPolicy) Option {
	return func(s *Scheduler) { s.pitchPolicy = p }
}

// WithObserver registers fn to receive every state transition.
func WithObserver(fn Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, fn) }
}

// Scheduler drives play instances through their lifecycle.
type Scheduler struct {
	catalog  sound.Catalog
	loader   sound.Loader
	pool     *voice.Pool
	registry *voice.Registry
	router   Resolver

	rng         sound.Rand
	log         *slog.Logger
	curve       mixer.Curve
	margin      time.Duration
	fallback    string
	pitchPolicy PitchPolicy
	observers   []Observer

	instances []*instance
	byVoice   map[*voice.Voice]*instance
	nextID    uint64
	clock     time.Duration
	tickStart time.Duration
	at        time.Duration
	warned    map[string]bool
}

// New returns a scheduler that resolves definitions from catalog, loads assets
// through loader, leases voices from pool and routes them through router.
func New(catalog sound.Catalog, loader sound.Loader, pool *voice.Pool, router Resolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		catalog:     catalog,
		loader:      loader,
		pool:        pool,
		registry:    voice.NewRegistry(),
		router:      router,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log:         slog.Default(),
		margin:      DefaultLoadMargin,
		fallback:    "Debug",
		pitchPolicy: PitchPerCycle,
		byVoice:     make(map[*voice.Voice]*instance),
		warned:      make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Play triggers the named definition and returns its expected duration.
//
// When the chosen asset is not resident the play is suspended until the
// loader reports completion and the declared duration plus the load margin is
// returned. Wait-mode definitions that are already playing return 0 and
// [ErrBusy]. Unknown names fall back to the configured fallback definition;
// if that is missing too the error wraps [sound.ErrUnknownClip].
func (s *Scheduler) Play(name string, o Overrides) (time.Duration, error) {
	s.at = s.clock
	def, err := s.resolve(name)
	if err != nil {
		return 0, err
	}

	s.nextID++
	inst := &instance{id: s.nextID, def: def, overrides: o}
	inst.asset = def.Pick(s.rng)

	d, ok := s.loader.IsResident(inst.asset)
	if !ok {
		inst.load = s.loader.RequestLoad(inst.asset)
		inst.state = StateWaiting
		s.instances = append(s.instances, inst)
		s.emit(inst, StateWaiting, StateWaiting, ReasonNone)
		return inst.asset.Duration + s.margin, nil
	}

	if err := s.begin(inst, d); err != nil {
		return 0, err
	}
	s.instances = append(s.instances, inst)
	s.step(inst, 0)
	return d, nil
}

// Stop forces every instance of the named definition, including those still
// waiting for data, to release on the next tick without fading out. It
// reports whether any instance was newly stopped.
func (s *Scheduler) Stop(name string) bool {
	s.at = s.clock
	stopped := false
	for _, inst := range s.instances {
		if inst.def.Name != name || inst.stopped || inst.state >= StateReleasing {
			continue
		}
		inst.stopped = true
		s.transition(inst, StateReleasing, ReasonStopped)
		stopped = true
	}
	return stopped
}

// StopAll stops every live instance and returns how many were stopped.
func (s *Scheduler) StopAll() int {
	s.at = s.clock
	n := 0
	for _, inst := range s.instances {
		if inst.stopped || inst.state >= StateReleasing {
			continue
		}
		inst.stopped = true
		s.transition(inst, StateReleasing, ReasonStopped)
		n++
	}
	return n
}

// Tick advances every instance by dt in registration order.
func (s *Scheduler) Tick(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	s.tickStart = s.clock
	for i := 0; i < len(s.instances); i++ {
		s.advance(s.instances[i], dt)
	}
	s.clock += dt
	s.tickStart = s.clock
	s.compact()
}

// ReleaseAll returns every leased voice to the pool immediately and forgets
// all instances.
func (s *Scheduler) ReleaseAll() {
	s.at = s.clock
	for _, inst := range s.instances {
		if inst.state != StateDone {
			s.finish(inst, ReasonShutdown)
		}
	}
	s.instances = nil
}

// Active returns the number of voices registered under name.
func (s *Scheduler) Active(name string) int { return s.registry.Count(name) }

// ActiveTotal returns the number of registered voices across all names.
func (s *Scheduler) ActiveTotal() int { return s.registry.Total() }

// Pending returns the number of instances of name still waiting for data.
func (s *Scheduler) Pending(name string) int {
	n := 0
	for _, inst := range s.instances {
		if inst.def.Name == name && inst.state == StateWaiting {
			n++
		}
	}
	return n
}

// Clock returns the sum of all tick deltas.
func (s *Scheduler) Clock() time.Duration { return s.clock }

// Snapshot returns the live instances in registration order.
func (s *Scheduler) Snapshot() []InstanceInfo {
	out := make([]InstanceInfo, 0, len(s.instances))
	for _, inst := range s.instances {
		if inst.state == StateDone {
			continue
		}
		info := InstanceInfo{
			ID:     inst.id,
			Clip:   inst.def.Name,
			State:  inst.state,
			Asset:  inst.asset.Path,
			Pitch:  inst.pitch,
			Cycles: inst.cycles,
		}
		if inst.voice != nil {
			info.Voice = inst.voice.ID()
			info.Volume = inst.voice.Volume()
		}
		out = append(out, info)
	}
	return out
}

// InstanceInfo is a read-only view of one play instance.
type InstanceInfo struct {
	ID     uint64  `json:"id"`
	Clip   string  `json:"clip"`
	State  State   `json:"state"`
	Asset  string  `json:"asset"`
	Voice  uint64  `json:"voice,omitempty"`
	Volume float64 `json:"volume"`
	Pitch  float64 `json:"pitch"`
	Cycles int     `json:"cycles"`
}

// resolve looks up name, falling back to the fallback definition on a miss.
func (s *Scheduler) resolve(name string) (sound.ClipDefinition, error) {
	def, err := s.catalog.Lookup(name)
	if err == nil {
		return def, nil
	}
	if !errors.Is(err, sound.ErrUnknownClip) || s.fallback == "" || name == s.fallback {
		return sound.ClipDefinition{}, fmt.Errorf("playback: lookup %q: %w", name, err)
	}
	fb, fbErr := s.catalog.Lookup(s.fallback)
	if fbErr != nil {
		return sound.ClipDefinition{}, fmt.Errorf("playback: lookup %q: %w", name, err)
	}
	s.log.Warn("playback: unknown clip, playing fallback", "clip", name, "fallback", s.fallback)
	return fb, nil
}

// begin applies the play-mode policy, leases and routes a voice, registers it
// and starts the first cycle. If it returns an error, or a collaborator
// panics, the voice is unregistered and back in the pool.
func (s *Scheduler) begin(inst *instance, d time.Duration) error {
	name := inst.def.Name
	switch inst.def.Mode {
	case sound.PlayWait:
		if s.registry.Count(name) > 0 {
			return fmt.Errorf("playback: %q: %w", name, ErrBusy)
		}
	case sound.PlayOverwrite:
		if oldest, ok := s.registry.Oldest(name); ok {
			if victim := s.byVoice[oldest]; victim != nil {
				s.finish(victim, ReasonEvicted)
			}
		}
	}

	v, err := s.pool.Acquire()
	if err != nil {
		return fmt.Errorf("playback: %q: %w", name, err)
	}
	inst.voice = v
	started := false
	defer func() {
		if !started {
			s.finish(inst, ReasonFailed)
		}
	}()

	v.Route(s.route(inst.def.MixerGroup))
	if err := s.registry.Add(name, v); err != nil {
		return fmt.Errorf("playback: %q: %w", name, err)
	}
	s.byVoice[v] = inst
	inst.target = s.curve.Gain(inst.def.Scale() * inst.overrides.Volume)
	inst.pitch = s.pitch(inst)

	s.transition(inst, StateStarting, ReasonNone)
	if err := s.startCycle(inst, inst.asset, d); err != nil {
		return err
	}
	started = true
	return nil
}

// route resolves a mixer group. Unknown groups play unrouted and are logged
// once per name.
func (s *Scheduler) route(group string) sound.RoutingHandle {
	if group == "" || s.router == nil {
		return nil
	}
	h, err := s.router.Resolve(group)
	if err != nil {
		if !s.warned[group] {
			s.warned[group] = true
			s.log.Warn("playback: mixer group unavailable, playing unrouted", "group", group, "err", err)
		}
		return nil
	}
	return h
}

func (s *Scheduler) pitch(inst *instance) float64 {
	if inst.overrides.HasPitch {
		return inst.overrides.Pitch
	}
	return inst.def.Pitch.Sample(s.rng)
}

// startCycle plays a on the instance's voice and enters FadingIn.
func (s *Scheduler) startCycle(inst *instance, a sound.Asset, d time.Duration) error {
	inst.asset = a
	inst.duration = d
	inst.fadeIn, inst.fadeOut = inst.def.Fade.Durations(d)
	inst.sustain = d - inst.fadeIn - inst.fadeOut
	inst.elapsed = 0

	if inst.fadeIn > 0 {
		inst.voice.SetVolume(0)
	} else {
		inst.voice.SetVolume(inst.target)
	}
	if err := inst.voice.Start(a, inst.pitch); err != nil {
		return fmt.Errorf("playback: %q: %w", inst.def.Name, err)
	}
	s.transition(inst, StateFadingIn, ReasonNone)
	return nil
}

// advance moves one instance forward by dt. An instance whose collaborator
// panics is released before the panic continues to the caller.
func (s *Scheduler) advance(inst *instance, dt time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.finish(inst, ReasonFailed)
			panic(r)
		}
	}()
	s.at = s.tickStart
	switch inst.state {
	case StateDone:
		return
	case StateReleasing:
		s.finish(inst, inst.reason)
		return
	case StateWaiting:
		s.resume(inst)
		return
	}
	s.step(inst, dt)
}

// resume polls the load signal of a waiting instance without blocking.
func (s *Scheduler) resume(inst *instance) {
	var res sound.LoadResult
	select {
	case res = <-inst.load:
	default:
		return
	}
	inst.load = nil

	if res.Err != nil {
		s.log.Warn("playback: asset load failed, abandoning play",
			"clip", inst.def.Name, "asset", inst.asset.Path, "err", res.Err)
		s.finish(inst, ReasonLoadFailed)
		return
	}

	if inst.voice != nil {
		// Looping instance waiting for its next variant.
		s.transition(inst, StateStarting, ReasonNone)
		if err := s.startCycle(inst, inst.asset, res.Duration); err != nil {
			s.log.Warn("playback: restart failed", "clip", inst.def.Name, "err", err)
			s.finish(inst, ReasonFailed)
			return
		}
		s.step(inst, 0)
		return
	}

	if err := s.begin(inst, res.Duration); err != nil {
		reason := ReasonFailed
		if errors.Is(err, ErrBusy) {
			reason = ReasonDropped
			s.log.Debug("playback: dropped waiting play", "clip", inst.def.Name)
		} else {
			s.log.Warn("playback: could not start waiting play", "clip", inst.def.Name, "err", err)
		}
		s.finish(inst, reason)
		return
	}
	s.step(inst, 0)
}

// step runs the envelope for dt, carrying leftover time across phase
// boundaries.
func (s *Scheduler) step(inst *instance, dt time.Duration) {
	remaining := dt
	for {
		s.now(dt - remaining)
		switch inst.state {
		case StateFadingIn:
			remaining = s.consume(inst, inst.fadeIn, remaining)
			if inst.elapsed < inst.fadeIn {
				inst.voice.SetVolume(inst.target * ratio(inst.elapsed, inst.fadeIn))
				return
			}
			inst.voice.SetVolume(inst.target)
			inst.elapsed = 0
			s.now(dt - remaining)
			s.transition(inst, StateSustaining, ReasonNone)

		case StateSustaining:
			remaining = s.consume(inst, inst.sustain, remaining)
			if inst.elapsed < inst.sustain {
				return
			}
			inst.elapsed = 0
			s.now(dt - remaining)
			s.transition(inst, StateFadingOut, ReasonNone)

		case StateFadingOut:
			remaining = s.consume(inst, inst.fadeOut, remaining)
			if inst.elapsed < inst.fadeOut {
				inst.voice.SetVolume(inst.target * (1 - ratio(inst.elapsed, inst.fadeOut)))
				return
			}
			inst.voice.SetVolume(0)
			s.now(dt - remaining)
			if !s.endCycle(inst) {
				return
			}

		default:
			return
		}
	}
}

// endCycle handles the end of a cycle. It reports whether the envelope should
// keep consuming the current tick.
func (s *Scheduler) endCycle(inst *instance) bool {
	if !inst.def.Loop || inst.stopped {
		s.transition(inst, StateReleasing, ReasonCompleted)
		s.finish(inst, ReasonCompleted)
		return false
	}

	inst.cycles++
	a := inst.def.Pick(s.rng)
	if s.pitchPolicy == PitchPerCycle {
		inst.pitch = s.pitch(inst)
	}

	d, ok := s.loader.IsResident(a)
	if !ok {
		inst.asset = a
		inst.load = s.loader.RequestLoad(a)
		s.transition(inst, StateWaiting, ReasonNone)
		return false
	}

	s.transition(inst, StateStarting, ReasonNone)
	if err := s.startCycle(inst, a, d); err != nil {
		s.log.Warn("playback: restart failed", "clip", inst.def.Name, "err", err)
		s.finish(inst, ReasonFailed)
		return false
	}
	// A zero-length cycle would restart forever within one tick.
	return d > 0
}

// consume advances inst.elapsed toward limit by at most remaining and returns
// what is left of remaining.
func (s *Scheduler) consume(inst *instance, limit, remaining time.Duration) time.Duration {
	take := min(remaining, max(limit-inst.elapsed, 0))
	inst.elapsed += take
	return remaining - take
}

// finish releases the instance's voice, if any, and marks it done.
func (s *Scheduler) finish(inst *instance, reason Reason) {
	if inst.state == StateDone {
		return
	}
	if v := inst.voice; v != nil {
		s.registry.Remove(v)
		delete(s.byVoice, v)
		s.pool.Release(v)
		inst.voice = nil
	}
	if inst.state != StateReleasing {
		s.transition(inst, StateReleasing, reason)
	}
	s.transition(inst, StateDone, reason)
}

func (s *Scheduler) transition(inst *instance, to State, reason Reason) {
	from := inst.state
	inst.state = to
	if reason != ReasonNone {
		inst.reason = reason
	}
	s.emit(inst, from, to, reason)
}

func (s *Scheduler) emit(inst *instance, from, to State, reason Reason) {
	if len(s.observers) == 0 {
		return
	}
	tr := Transition{
		Instance: inst.id,
		Clip:     inst.def.Name,
		From:     from,
		To:       to,
		Cycle:    inst.cycles,
		At:       s.at,
		Reason:   reason,
	}
	for _, fn := range s.observers {
		fn(tr)
	}
}

// now records the clock position inside the current tick for observers.
func (s *Scheduler) now(consumed time.Duration) {
	s.at = s.tickStart + consumed
}

func (s *Scheduler) compact() {
	s.instances = slices.DeleteFunc(s.instances, func(inst *instance) bool {
		return inst.state == StateDone
	})
}

func ratio(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return min(float64(elapsed)/float64(total), 1)
}

// instance is one play of a definition.
type instance struct {
	id        uint64
	def       sound.ClipDefinition
	overrides Overrides
	asset     sound.Asset
	voice     *voice.Voice
	load      <-chan sound.LoadResult

	state   State
	reason  Reason
	stopped bool
	cycles  int

	target   float64
	pitch    float64
	duration time.Duration
	fadeIn   time.Duration
	fadeOut  time.Duration
	sustain  time.Duration
	elapsed  time.Duration
}
