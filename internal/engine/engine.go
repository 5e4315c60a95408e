// Package engine hosts the playback scheduler for multi-threaded callers.
//
// An [Engine] owns the voice pool, the mixer router and the scheduler. Every
// public call takes one mutex for its whole duration, so the scheduler itself
// stays lock-free and single-threaded. Panics raised by collaborators (output
// devices, decoders, mixer services) are recovered at this boundary, logged,
// counted and turned into zero results: audio failures never terminate the
// host.
//
// Lifecycle: [New] → [Engine.Initialize] → [Engine.Run] (or manual
// [Engine.Tick] calls) → [Engine.Shutdown].
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/cuemix/internal/mixer"
	"github.com/MrWong99/cuemix/internal/observe"
	"github.com/MrWong99/cuemix/internal/playback"
	"github.com/MrWong99/cuemix/internal/voice"
	"github.com/MrWong99/cuemix/pkg/sound"
)

// DefaultTickRate is the number of scheduler ticks per second driven by
// [Engine.Run].
const DefaultTickRate = 60

// ErrNotInitialized is returned by [Engine.Ready] before
// [Engine.Initialize] completed or after [Engine.Shutdown].
var ErrNotInitialized = errors.New("engine: not initialized")

// Preloader decodes assets ahead of their first play. [*assets.Loader]
// satisfies it.
type Preloader interface {
	Preload(ctx context.Context, list []sound.Asset) error
}

// Suggester proposes a known clip name for a misspelled one.
// [*catalog.Catalog] satisfies it.
type Suggester interface {
	Suggest(name string) (string, bool)
}

// PlayOption adjusts a single [Engine.Play] call.
type PlayOption func(*playback.Overrides)

// WithVolume multiplies the definition's volume scale by v.
func WithVolume(v float64) PlayOption {
	return func(o *playback.Overrides) { o.Volume = v }
}

// WithPitch replaces the random pitch with p.
func WithPitch(p float64) PlayOption {
	return func(o *playback.Overrides) {
		o.Pitch = p
		o.HasPitch = true
	}
}

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and the components it owns.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCurve sets the volume curve shared by the router and the scheduler.
// Curves that fail [mixer.Curve.Validate] are ignored.
func WithCurve(c mixer.Curve) Option {
	return func(e *Engine) {
		if c.Validate() == nil {
			e.curve = c
		}
	}
}

// WithTickRate sets the ticks per second used by [Engine.Run]. Values below
// one are ignored.
func WithTickRate(hz int) Option {
	return func(e *Engine) {
		if hz > 0 {
			e.tickRate = hz
		}
	}
}

// WithGroups names mixer groups to initialise in addition to the groups the
// catalog references.
func WithGroups(names ...string) Option {
	return func(e *Engine) { e.groups = append(e.groups, names...) }
}

// WithPreloader enables decoding of preload-flagged definitions during
// [Engine.Initialize] and [Engine.Reload].
func WithPreloader(p Preloader) Option {
	return func(e *Engine) { e.preloader = p }
}

// WithScheduler passes options through to the playback scheduler.
func WithScheduler(opts ...playback.Option) Option {
	return func(e *Engine) { e.schedOpts = append(e.schedOpts, opts...) }
}

// Engine is the thread-safe playback host. All methods are safe for
// concurrent use.
type Engine struct {
	catalog   sound.Catalog
	pool      *voice.Pool
	router    *mixer.Router
	sched     *playback.Scheduler
	preloader Preloader

	log       *slog.Logger
	metrics   *observe.Metrics
	curve     mixer.Curve
	tickRate  int
	groups    []string
	schedOpts []playback.Option

	ready atomic.Bool

	mu      sync.Mutex
	waiting bool
}

// New returns an engine playing definitions from catalog. Assets are loaded
// through loader, voices are created by factory and routed through the
// groups of mixer.
func New(catalog sound.Catalog, loader sound.Loader, factory sound.VoiceFactory, mixerSvc sound.MixerService, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		log:      slog.Default(),
		tickRate: DefaultTickRate,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	e.pool = voice.NewPool(factory, voice.WithOnCreate(func(size int) {
		e.metrics.PoolSize.Record(context.Background(), int64(size))
		e.log.Debug("engine: voice pool grew", "size", size)
	}))
	e.router = mixer.NewRouter(mixerSvc, e.curve, mixer.WithLogger(e.log))

	schedOpts := []playback.Option{
		playback.WithLogger(e.log),
		playback.WithCurve(e.curve),
	}
	schedOpts = append(schedOpts, e.schedOpts...)
	schedOpts = append(schedOpts, playback.WithObserver(e.observe))
	e.sched = playback.New(catalog, loader, e.pool, e.router, schedOpts...)
	return e
}

// Initialize resolves every known mixer group, applies its persisted default
// level and preloads flagged assets. Failures are returned joined but leave
// the engine usable: affected groups play unrouted and affected assets load
// on demand.
func (e *Engine) Initialize(ctx context.Context) error {
	err := e.prepare(ctx)
	e.ready.Store(true)
	e.log.Info("engine: initialized",
		"groups", len(e.router.Groups()),
		"clips", len(e.catalog.Definitions()),
		"tick_rate", e.tickRate,
	)
	return err
}

// Reload picks up definitions added to the catalog since [Engine.Initialize]:
// new mixer groups are resolved and new preload assets decoded. Running
// instances keep the definition they started with.
func (e *Engine) Reload(ctx context.Context) error {
	return e.prepare(ctx)
}

func (e *Engine) prepare(ctx context.Context) (err error) {
	defer e.guardErr("initialize", "", &err)

	var errs []error
	if gerr := e.router.Init(ctx, e.groupNames()); gerr != nil {
		errs = append(errs, fmt.Errorf("engine: init groups: %w", gerr))
	}
	if e.preloader != nil {
		if list := e.preloadList(); len(list) > 0 {
			if perr := e.preloader.Preload(ctx, list); perr != nil {
				errs = append(errs, fmt.Errorf("engine: preload: %w", perr))
			}
		}
	}
	return errors.Join(errs...)
}

// groupNames returns the configured groups followed by every group the
// catalog references, without duplicates.
func (e *Engine) groupNames() []string {
	var names []string
	add := func(n string) {
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	for _, n := range e.groups {
		add(n)
	}
	for _, d := range e.catalog.Definitions() {
		add(d.MixerGroup)
	}
	return names
}

func (e *Engine) preloadList() []sound.Asset {
	var list []sound.Asset
	for _, d := range e.catalog.Definitions() {
		if d.Preload {
			list = append(list, d.Assets...)
		}
	}
	return list
}

// Shutdown releases every leased voice and closes all output channels. The
// engine cannot play afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready.Store(false)

	active := e.sched.ActiveTotal()
	e.sched.ReleaseAll()
	if err := e.pool.Close(); err != nil {
		return fmt.Errorf("engine: close voices: %w", err)
	}
	e.metrics.RecordVoices(ctx, 0, e.pool.Size())
	e.log.Info("engine: shut down", "released", active, "voices", e.pool.Size())
	return nil
}

// Ready reports whether the engine accepts plays. It satisfies the readiness
// check signature used by the health package.
func (e *Engine) Ready(context.Context) error {
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Run ticks the scheduler at the configured rate with measured wall-clock
// deltas until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(e.tickRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.Tick(now.Sub(last))
			last = now
		}
	}
}

// Play triggers the named definition and returns its expected duration, or 0
// when nothing will be heard: an unknown name without fallback, a dropped
// wait-mode play, or a failing output.
func (e *Engine) Play(name string, opts ...PlayOption) (d time.Duration) {
	o := playback.DefaultOverrides()
	for _, fn := range opts {
		fn(&o)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("play", name)

	ctx := context.Background()
	e.waiting = false
	d, err := e.sched.Play(name, o)
	switch {
	case err == nil:
		outcome := observe.OutcomeStarted
		if e.waiting {
			outcome = observe.OutcomeWaiting
		}
		e.metrics.RecordPlay(ctx, name, outcome)
		e.metrics.RecordVoices(ctx, e.sched.ActiveTotal(), e.pool.Size())
		return d
	case errors.Is(err, playback.ErrBusy):
		e.log.Debug("engine: play dropped, clip already playing", "clip", name)
		e.metrics.RecordPlay(ctx, name, observe.OutcomeDropped)
	case errors.Is(err, sound.ErrUnknownClip):
		attrs := []any{"clip", name}
		if s, ok := e.catalog.(Suggester); ok {
			if hint, ok := s.Suggest(name); ok {
				attrs = append(attrs, "did_you_mean", hint)
			}
		}
		e.log.Warn("engine: unknown clip", attrs...)
		e.metrics.RecordPlay(ctx, name, observe.OutcomeUnknown)
	default:
		e.log.Warn("engine: play failed", "clip", name, "err", err)
		e.metrics.RecordPlay(ctx, name, observe.OutcomeFailed)
	}
	return 0
}

// Stop releases every instance of name on the next tick without fading out.
// It reports whether anything was playing or waiting.
func (e *Engine) Stop(name string) (stopped bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("stop", name)
	return e.sched.Stop(name)
}

// StopAll stops every instance and returns how many were stopped.
func (e *Engine) StopAll() (n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("stop_all", "")
	return e.sched.StopAll()
}

// Tick advances playback by dt.
func (e *Engine) Tick(dt time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("tick", "")

	start := time.Now()
	e.sched.Tick(dt)
	ctx := context.Background()
	e.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
	e.metrics.RecordVoices(ctx, e.sched.ActiveTotal(), e.pool.Size())
}

// SetGroupVolume sets the linear level of a mixer group and persists it.
func (e *Engine) SetGroupVolume(ctx context.Context, group string, level float64) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guardErr("set_group_volume", group, &err)

	if err := e.router.SetGroupVolume(ctx, group, level); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.metrics.GroupVolumeChanges.Add(ctx, 1, metricGroup(group))
	e.log.Info("engine: group volume changed", "group", group, "level", level)
	return nil
}

// GroupVolume returns the current linear level of a mixer group.
func (e *Engine) GroupVolume(group string) (level float64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guardErr("group_volume", group, &err)
	return e.router.GroupVolume(group)
}

// ResetAllToDefaultVolume restores every group to its persisted default.
func (e *Engine) ResetAllToDefaultVolume(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guardErr("reset_volume", "", &err)

	if err := e.router.ResetToDefault(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.log.Info("engine: group volumes reset")
	return nil
}

// Groups returns the level of every resolved mixer group.
func (e *Engine) Groups() []mixer.GroupState {
	return e.router.Groups()
}

// Clips returns every definition of the catalog.
func (e *Engine) Clips() []sound.ClipDefinition {
	return e.catalog.Definitions()
}

// Snapshot returns the live play instances.
func (e *Engine) Snapshot() []playback.InstanceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Snapshot()
}

// Active returns the number of voices playing name.
func (e *Engine) Active(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Active(name)
}

// Voices returns the size of the voice pool.
func (e *Engine) Voices() int { return e.pool.Size() }

// observe feeds scheduler transitions into logs and metrics. It runs on the
// scheduling goroutine with e.mu held.
func (e *Engine) observe(t playback.Transition) {
	ctx := context.Background()
	switch {
	case t.From == playback.StateWaiting && t.To == playback.StateWaiting:
		e.waiting = true
		e.log.Debug("engine: waiting for asset", "clip", t.Clip, "instance", t.Instance)
	case t.From == playback.StateFadingOut && (t.To == playback.StateStarting || t.To == playback.StateWaiting):
		e.metrics.RecordLoop(ctx, t.Clip)
	case t.To == playback.StateDone:
		e.metrics.RecordFinish(ctx, t.Clip, string(t.Reason))
		e.log.Debug("engine: instance finished",
			"clip", t.Clip, "instance", t.Instance, "reason", t.Reason, "cycles", t.Cycle)
	}
}

// guard recovers a panic raised below a public call. It must be deferred
// directly.
func (e *Engine) guard(op, clip string) {
	if r := recover(); r != nil {
		e.panicked(op, clip, r)
	}
}

// guardErr is like guard but reports the panic through err.
func (e *Engine) guardErr(op, group string, err *error) {
	if r := recover(); r != nil {
		e.panicked(op, group, r)
		*err = fmt.Errorf("engine: %s: recovered panic: %v", op, r)
	}
}

func (e *Engine) panicked(op, subject string, r any) {
	e.metrics.Panics.Add(context.Background(), 1, metricOp(op))
	e.log.Error("engine: recovered panic",
		"op", op,
		"subject", subject,
		"panic", r,
		"stack", string(debug.Stack()),
	)
}

func metricGroup(group string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("group", group))
}

func metricOp(op string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("op", op))
}
