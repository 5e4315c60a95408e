// Package app wires all cuemix subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the engine clock and serves the control API, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSettingsStore,
// WithVoiceFactory, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cuemix/internal/assets"
	"github.com/MrWong99/cuemix/internal/bus"
	"github.com/MrWong99/cuemix/internal/catalog"
	"github.com/MrWong99/cuemix/internal/config"
	"github.com/MrWong99/cuemix/internal/control"
	"github.com/MrWong99/cuemix/internal/engine"
	"github.com/MrWong99/cuemix/internal/health"
	"github.com/MrWong99/cuemix/internal/mixer"
	"github.com/MrWong99/cuemix/internal/observe"
	"github.com/MrWong99/cuemix/internal/output"
	"github.com/MrWong99/cuemix/internal/output/beepout"
	"github.com/MrWong99/cuemix/internal/output/headless"
	"github.com/MrWong99/cuemix/internal/output/otoout"
	"github.com/MrWong99/cuemix/internal/playback"
	"github.com/MrWong99/cuemix/internal/resilience"
	"github.com/MrWong99/cuemix/internal/settings"
	"github.com/MrWong99/cuemix/pkg/sound"
)

// shutdownGrace bounds how long the HTTP server may drain connections once
// Run's context is cancelled.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	configPath string
	log        *slog.Logger
	level      *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store   settings.Store
	bus     *bus.Bus
	loader  *assets.Loader
	catalog *catalog.Catalog
	factory sound.VoiceFactory
	metrics *observe.Metrics
	engine  *engine.Engine
	health  *health.Handler
	handler http.Handler
	metricz http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel lets config reloads change the log level of the handler behind
// the logger.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigPath enables watching the config file at path for log level
// changes while Run is active.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithSettingsStore injects a settings store instead of creating one from
// config.
func WithSettingsStore(s settings.Store) Option {
	return func(a *App) { a.store = s }
}

// WithVoiceFactory injects a voice backend instead of opening the configured
// output device.
func WithVoiceFactory(f sound.VoiceFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithMetrics injects the metrics instruments. The OpenTelemetry provider and
// the /metrics endpoint are not set up when metrics are injected.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: settings store connection,
// bus construction, catalog loading, output device setup, engine
// initialisation with preloading, and HTTP route registration. A failing
// engine initialisation is logged; the engine stays usable for clips whose
// groups and assets are fine.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		log:   slog.Default(),
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Settings store ────────────────────────────────────────────────
	if err := a.initSettings(ctx); err != nil {
		return nil, fmt.Errorf("app: init settings: %w", err)
	}

	// ── 3. Mixer bus ─────────────────────────────────────────────────────
	b, err := bus.New(cfg.BusConfigs(), a.store, bus.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("app: init bus: %w", err)
	}
	a.bus = b

	// ── 4. Assets + catalog ──────────────────────────────────────────────
	a.loader = assets.NewLoader(a.assetRoot(),
		assets.WithLogger(a.log),
		assets.WithOnLoad(func(path string, took time.Duration, err error) {
			a.metrics.RecordAssetLoad(context.Background(), took, err)
		}),
	)
	cat, err := catalog.Open(cfg.Catalog.Path, catalog.WithProber(a.loader), catalog.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}
	a.catalog = cat
	a.log.Info("catalog loaded", "path", cfg.Catalog.Path, "clips", cat.Len())

	// ── 5. Output device ─────────────────────────────────────────────────
	if err := a.initOutput(); err != nil {
		return nil, fmt.Errorf("app: init output: %w", err)
	}

	// ── 6. Engine ────────────────────────────────────────────────────────
	a.engine = engine.New(a.catalog, a.loader, a.factory, a.bus, a.engineOptions()...)
	if err := a.engine.Initialize(ctx); err != nil {
		a.log.Warn("engine initialised with errors", "err", err)
	}

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	ok = true
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OpenTelemetry providers with a Prometheus
// registry of our own so /metrics only exposes cuemix collectors.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	if !a.cfg.Telemetry.MetricsEnabled() {
		a.metrics = observe.DefaultMetrics()
		return nil
	}

	reg := prometheus.NewRegistry()
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:     a.cfg.Telemetry.ServiceName,
		OutputBackend:   a.cfg.Output.Backend,
		TickRate:        a.cfg.Engine.TickRate,
		SettingsBackend: string(a.cfg.Settings.Backend),
		Registerer:      reg,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return shutdown(ctx)
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	a.metricz = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return nil
}

// initSettings opens the configured settings backend unless one was
// injected.
func (a *App) initSettings(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Settings.Backend {
	case config.SettingsPostgres:
		s, closeFn, err := settings.OpenPostgres(ctx, a.cfg.Settings.PostgresDSN)
		if err != nil {
			return err
		}
		// Keep serving levels from memory while the database is unreachable.
		a.store = resilience.NewStore("postgres", s, resilience.FallbackConfig{Logger: a.log})
		a.closers = append(a.closers, func() error {
			closeFn()
			return nil
		})
	case config.SettingsMemory:
		a.store = settings.NewMemStore(nil)
	default:
		s, err := settings.OpenFileStore(a.cfg.Settings.Path)
		if err != nil {
			return err
		}
		a.store = s
	}
	a.log.Info("settings store ready", "backend", a.cfg.Settings.Backend)
	return nil
}

// initOutput opens the configured voice backend unless one was injected.
func (a *App) initOutput() error {
	if a.factory != nil {
		return nil
	}
	cfg := a.cfg.Output
	switch cfg.Backend {
	case output.BackendOto:
		o, err := otoout.New(a.loader, cfg.Config, otoout.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.factory = o
	case output.BackendHeadless:
		a.factory = headless.New(headless.WithSource(a.loader), headless.WithLogger(a.log))
	default:
		o := beepout.New(a.loader, cfg.Config, beepout.WithLogger(a.log))
		if err := o.Open(); err != nil {
			return err
		}
		a.factory = o
		a.closers = append(a.closers, o.Close)
	}
	a.log.Info("output ready", "backend", cfg.Backend)
	return nil
}

func (a *App) engineOptions() []engine.Option {
	ec := a.cfg.Engine
	sched := []playback.Option{
		playback.WithLoadMargin(ec.LoadLatencyMargin),
		playback.WithFallback(ec.Fallback()),
		playback.WithPitchPolicy(ec.PitchPolicy),
	}
	if ec.Seed != 0 {
		sched = append(sched, playback.WithRand(rand.New(rand.NewPCG(ec.Seed, ec.Seed))))
	}
	return []engine.Option{
		engine.WithLogger(a.log),
		engine.WithMetrics(a.metrics),
		engine.WithCurve(mixer.Curve{HeadroomDB: ec.HeadroomDB}),
		engine.WithTickRate(ec.TickRate),
		engine.WithGroups(a.bus.Names()...),
		engine.WithPreloader(a.loader),
		engine.WithScheduler(sched...),
	}
}

// initHTTP registers the control API, health probes and /metrics.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	control.New(a.engine, control.WithLogger(a.log)).Register(mux)

	a.health = health.New(
		health.Checker{Name: "engine", Check: a.engine.Ready},
		health.Ping("settings", a.store),
	)
	a.health.Register(mux)

	if a.metricz != nil {
		mux.Handle("GET /metrics", a.metricz)
	}
	a.handler = observe.Middleware(a.metrics)(mux)
}

// assetRoot returns the directory asset paths are resolved against.
func (a *App) assetRoot() string {
	if a.cfg.Catalog.AssetRoot != "" {
		return a.cfg.Catalog.AssetRoot
	}
	return filepath.Dir(a.cfg.Catalog.Path)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the playback engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP handler serving the control API, health probes
// and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Addr blocks until Run is listening and returns the bound address, or
// returns nil when ctx is done first.
func (a *App) Addr(ctx context.Context) net.Addr {
	select {
	case <-a.ready:
		a.addrMu.Lock()
		defer a.addrMu.Unlock()
		return a.addr
	case <-ctx.Done():
		return nil
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API, drives the engine clock and watches the
// catalog and config files. It blocks until ctx is cancelled or a component
// fails, and returns nil on cancellation.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Catalog.Watch {
		w, err := config.NewWatcher(a.cfg.Catalog.Path, catalog.LoadFromReader, a.onCatalogChange,
			config.WithInterval(a.cfg.Catalog.WatchInterval),
			config.WithWatchLogger(a.log),
		)
		if err != nil {
			a.log.Warn("catalog watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}
	if a.configPath != "" {
		w, err := config.NewConfigWatcher(a.configPath, a.onConfigChange,
			config.WithInterval(a.cfg.Catalog.WatchInterval),
			config.WithWatchLogger(a.log),
		)
		if err != nil {
			a.log.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.engine.Run(gctx) })

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	a.log.Info("app running", "addr", ln.Addr().String(), "clips", a.catalog.Len(), "groups", len(a.bus.Names()))
	return g.Wait()
}

// onCatalogChange swaps in the reloaded clip definitions. Running instances
// keep the definition they started with.
func (a *App) onCatalogChange(_, next *catalog.File) {
	if err := a.catalog.Replace(next.Clips); err != nil {
		a.log.Warn("catalog reload rejected", "err", err)
		return
	}
	if err := a.engine.Reload(context.Background()); err != nil {
		a.log.Warn("engine reload finished with errors", "err", err)
	}
	a.log.Info("catalog reloaded", "clips", a.catalog.Len())
}

// onConfigChange applies the log level and reports everything that needs a
// restart.
func (a *App) onConfigChange(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, g := range d.GroupChanges {
		a.log.Info("mixer group changed in config", "group", g.Name, "added", g.Added, "removed", g.Removed, "old_default", g.OldDefault, "new_default", g.NewDefault)
	}
	if len(d.Restart) > 0 {
		a.log.Warn("config changes need a restart", "sections", slices.Clone(d.Restart))
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases every voice and tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		if err := a.engine.Shutdown(ctx); err != nil {
			a.log.Warn("engine shutdown error", "err", err)
		}
		a.loader.Wait()
		shutdownErr = a.closeCtx(ctx)
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) close() { _ = a.closeCtx(context.Background()) }

func (a *App) closeCtx(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
			return ctx.Err()
		default:
		}
		if err := a.closers[i](); err != nil {
			a.log.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}
