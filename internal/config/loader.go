package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/cuemix/internal/bus"
	"github.com/MrWong99/cuemix/internal/mixer"
	"github.com/MrWong99/cuemix/internal/output"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields the default
// configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine
	if cfg.Engine.TickRate < 0 || cfg.Engine.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("engine.tick_rate %d is out of range [1, 1000]", cfg.Engine.TickRate))
	}
	if err := (mixer.Curve{HeadroomDB: cfg.Engine.HeadroomDB}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine.headroom_db: %w", err))
	}
	if cfg.Engine.LoadLatencyMargin < 0 {
		errs = append(errs, fmt.Errorf("engine.load_latency_margin %v must not be negative", cfg.Engine.LoadLatencyMargin))
	}
	if cfg.Engine.PitchPolicy != "" && !cfg.Engine.PitchPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("engine.pitch_policy %q is invalid; valid values: per_cycle, per_play", cfg.Engine.PitchPolicy))
	}

	// Catalog
	if cfg.Catalog.WatchInterval < 0 {
		errs = append(errs, fmt.Errorf("catalog.watch_interval %v must not be negative", cfg.Catalog.WatchInterval))
	}

	// Output
	switch cfg.Output.Backend {
	case "", output.BackendBeep, output.BackendOto, output.BackendHeadless:
	default:
		errs = append(errs, fmt.Errorf("output.backend %q is invalid; valid values: beep, oto, headless", cfg.Output.Backend))
	}
	if err := cfg.Output.Config.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Groups
	for i, g := range cfg.Groups {
		if g.Default != nil && math.IsNaN(*g.Default) {
			errs = append(errs, fmt.Errorf("groups[%d].default must be a number", i))
		}
	}
	if err := bus.Validate(cfg.BusConfigs()); err != nil {
		errs = append(errs, err)
	}

	// Settings
	if cfg.Settings.Backend != "" && !cfg.Settings.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("settings.backend %q is invalid; valid values: file, postgres, memory", cfg.Settings.Backend))
	}
	if cfg.Settings.Backend == SettingsPostgres && cfg.Settings.PostgresDSN == "" {
		errs = append(errs, errors.New("settings.postgres_dsn is required when backend is postgres"))
	}
	if cfg.Settings.Backend == SettingsFile && cfg.Settings.Path == "" {
		errs = append(errs, errors.New("settings.path is required when backend is file"))
	}
	if cfg.Settings.Backend == SettingsMemory {
		slog.Warn("settings.backend is memory; volume changes will be lost on restart")
	}

	return errors.Join(errs...)
}
