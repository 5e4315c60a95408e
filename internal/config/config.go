// Package config provides the configuration schema, loader, validation and
// file watching for the cuemix playback server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/cuemix/internal/bus"
	"github.com/MrWong99/cuemix/internal/output"
	"github.com/MrWong99/cuemix/internal/playback"
)

// LogLevel controls log verbosity for the cuemix server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SettingsBackend selects where user volume levels are persisted.
type SettingsBackend string

const (
	SettingsFile     SettingsBackend = "file"
	SettingsPostgres SettingsBackend = "postgres"
	SettingsMemory   SettingsBackend = "memory"
)

// IsValid reports whether b is a recognised settings backend.
func (b SettingsBackend) IsValid() bool {
	switch b {
	case SettingsFile, SettingsPostgres, SettingsMemory:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr    = ":8090"
	DefaultTickRate      = 60
	DefaultFallbackClip  = "Debug"
	DefaultCatalogPath   = "clips.yaml"
	DefaultWatchInterval = 2 * time.Second
	DefaultSettingsPath  = "volumes.yaml"
	DefaultServiceName   = "cuemix"
)

// Config is the root configuration structure for cuemix.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Output    OutputConfig    `yaml:"output"`
	Groups    []GroupConfig   `yaml:"groups"`
	Settings  SettingsConfig  `yaml:"settings"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig tunes the playback scheduler.
type EngineConfig struct {
	// TickRate is the number of scheduler ticks per second.
	TickRate int `yaml:"tick_rate"`

	// HeadroomDB raises the top of the volume curve above unity.
	HeadroomDB float64 `yaml:"headroom_db"`

	// LoadLatencyMargin is added to the declared duration of plays that wait
	// for their asset to load.
	LoadLatencyMargin time.Duration `yaml:"load_latency_margin"`

	// FallbackClip is played in place of unknown clip names. nil means
	// [DefaultFallbackClip]; an empty string disables the fallback.
	FallbackClip *string `yaml:"fallback_clip"`

	// PitchPolicy is "per_cycle" or "per_play".
	PitchPolicy playback.PitchPolicy `yaml:"pitch_policy"`

	// Seed fixes the random source when non-zero, making variant and pitch
	// choices reproducible.
	Seed uint64 `yaml:"seed"`
}

// Fallback returns the effective fallback clip name.
func (e EngineConfig) Fallback() string {
	if e.FallbackClip == nil {
		return DefaultFallbackClip
	}
	return *e.FallbackClip
}

// CatalogConfig locates the clip definitions and their audio files.
type CatalogConfig struct {
	// Path is the YAML file holding the clip definitions.
	Path string `yaml:"path"`

	// AssetRoot is the directory asset paths are resolved against. Defaults
	// to the directory of Path.
	AssetRoot string `yaml:"asset_root"`

	// Watch reloads the catalog when the file changes.
	Watch bool `yaml:"watch"`

	// WatchInterval is the polling interval used when Watch is set.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// OutputConfig selects and tunes the audio backend.
type OutputConfig struct {
	// Backend is one of "beep", "oto" or "headless".
	Backend string `yaml:"backend"`

	output.Config `yaml:",inline"`
}

// GroupConfig declares one mixer group.
type GroupConfig struct {
	Name string `yaml:"name"`

	// Parent names the group this one feeds into. Empty means Master.
	Parent string `yaml:"parent"`

	// Default is the linear level in [0,1] used until the user saves one.
	// nil means 1.
	Default *float64 `yaml:"default"`
}

// SettingsConfig selects the persistence backend for user volume levels.
type SettingsConfig struct {
	Backend SettingsBackend `yaml:"backend"`

	// Path is the YAML file used by the file backend.
	Path string `yaml:"path"`

	// PostgresDSN is the connection string used by the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	// Metrics enables the Prometheus /metrics endpoint. nil means enabled.
	Metrics *bool `yaml:"metrics"`

	ServiceName string `yaml:"service_name"`
}

// MetricsEnabled reports whether metrics are exported.
func (t TelemetryConfig) MetricsEnabled() bool {
	return t.Metrics == nil || *t.Metrics
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Engine.TickRate == 0 {
		c.Engine.TickRate = DefaultTickRate
	}
	if c.Engine.LoadLatencyMargin == 0 {
		c.Engine.LoadLatencyMargin = playback.DefaultLoadMargin
	}
	if c.Engine.PitchPolicy == "" {
		c.Engine.PitchPolicy = playback.PitchPerCycle
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = DefaultCatalogPath
	}
	if c.Catalog.WatchInterval == 0 {
		c.Catalog.WatchInterval = DefaultWatchInterval
	}
	if c.Output.Backend == "" {
		c.Output.Backend = output.BackendBeep
	}
	c.Output.Config = c.Output.Config.WithDefaults()
	if c.Settings.Backend == "" {
		c.Settings.Backend = SettingsFile
	}
	if c.Settings.Backend == SettingsFile && c.Settings.Path == "" {
		c.Settings.Path = DefaultSettingsPath
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// BusConfigs converts the group declarations for [bus.New].
func (c *Config) BusConfigs() []bus.Config {
	out := make([]bus.Config, len(c.Groups))
	for i, g := range c.Groups {
		def := 1.0
		if g.Default != nil {
			def = *g.Default
		}
		out[i] = bus.Config{Name: g.Name, Parent: g.Parent, Default: def}
	}
	return out
}

// GroupNames returns the declared group names in order.
func (c *Config) GroupNames() []string {
	names := make([]string, len(c.Groups))
	for i, g := range c.Groups {
		names[i] = g.Name
	}
	return names
}
