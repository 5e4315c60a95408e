// Command cuemix is the main entry point for the cuemix playback server.
//
// Without -play it loads the clip catalog, opens the audio device and serves
// the control API until interrupted. With -play it triggers a single clip,
// waits for it to finish and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/cuemix/internal/app"
	"github.com/MrWong99/cuemix/internal/config"
)

// playTail keeps the clock running briefly after a one-shot clip so the
// device buffer drains.
const playTail = 250 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "cuemix.yaml", "path to the YAML configuration file")
	playClip := flag.String("play", "", "play a single clip, wait for it to finish and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cuemix: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cuemix: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("cuemix starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"output", cfg.Output.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLogger(logger), app.WithLevel(level)}
	if *playClip == "" {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if *playClip != "" {
		code = playOnce(ctx, application, *playClip)
	} else {
		printStartupSummary(cfg)
		slog.Info("server ready, press Ctrl+C to shut down")
		if err := application.Run(ctx); err != nil {
			slog.Error("run error", "err", err)
			code = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// playOnce triggers clip and drives the engine clock for the returned
// duration.
func playOnce(ctx context.Context, a *app.App, clip string) int {
	eng := a.Engine()
	d := eng.Play(clip)
	if d == 0 {
		slog.Error("nothing to play", "clip", clip)
		return 1
	}
	slog.Info("playing", "clip", clip, "duration", d)

	ctx, cancel := context.WithTimeout(ctx, d+playTail)
	defer cancel()
	if err := eng.Run(ctx); err != nil {
		slog.Error("playback error", "clip", clip, "err", err)
		return 1
	}
	return 0
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          cuemix — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Output", cfg.Output.Backend)
	printRow("Catalog", cfg.Catalog.Path)
	printRow("Settings", string(cfg.Settings.Backend))
	printRow("Fallback clip", orNone(cfg.Engine.Fallback()))
	printRow("Tick rate", fmt.Sprintf("%d Hz", cfg.Engine.TickRate))
	printRow("Mixer groups", fmt.Sprintf("%d", len(cfg.Groups)))
	if cfg.Telemetry.MetricsEnabled() {
		printRow("Metrics", "/metrics")
	} else {
		printRow("Metrics", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = "…" + value[len(value)-16:]
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
