package config

// ConfigDiff describes what changed between two configs. Only the log level
// is applied live; everything listed in Restart needs a process restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GroupChanges lists per-group differences for logging.
	GroupChanges []GroupDiff

	// Restart names the settings that changed but cannot be hot-reloaded.
	Restart []string
}

// GroupDiff describes the change of one mixer group.
type GroupDiff struct {
	Name       string
	OldDefault float64
	NewDefault float64
	Added      bool
	Removed    bool
	Reparented bool
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.Restart) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldGroups := make(map[string]GroupConfig, len(old.Groups))
	for _, g := range old.Groups {
		oldGroups[g.Name] = g
	}
	newGroups := make(map[string]GroupConfig, len(new.Groups))
	for _, g := range new.Groups {
		newGroups[g.Name] = g
	}
	for _, g := range old.Groups {
		if _, ok := newGroups[g.Name]; !ok {
			d.GroupChanges = append(d.GroupChanges, GroupDiff{Name: g.Name, OldDefault: level(g.Default), Removed: true})
		}
	}
	for _, g := range new.Groups {
		prev, ok := oldGroups[g.Name]
		if !ok {
			d.GroupChanges = append(d.GroupChanges, GroupDiff{Name: g.Name, NewDefault: level(g.Default), Added: true})
			continue
		}
		gd := GroupDiff{
			Name:       g.Name,
			OldDefault: level(prev.Default),
			NewDefault: level(g.Default),
			Reparented: prev.Parent != g.Parent,
		}
		if gd.OldDefault != gd.NewDefault || gd.Reparented {
			d.GroupChanges = append(d.GroupChanges, gd)
		}
	}
	if len(d.GroupChanges) > 0 {
		d.Restart = append(d.Restart, "groups")
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.Restart = append(d.Restart, "server.listen_addr")
	}
	if old.Engine.TickRate != new.Engine.TickRate ||
		old.Engine.HeadroomDB != new.Engine.HeadroomDB ||
		old.Engine.LoadLatencyMargin != new.Engine.LoadLatencyMargin ||
		old.Engine.PitchPolicy != new.Engine.PitchPolicy ||
		old.Engine.Seed != new.Engine.Seed ||
		old.Engine.Fallback() != new.Engine.Fallback() {
		d.Restart = append(d.Restart, "engine")
	}
	if old.Catalog != new.Catalog {
		d.Restart = append(d.Restart, "catalog")
	}
	if old.Output != new.Output {
		d.Restart = append(d.Restart, "output")
	}
	if old.Settings != new.Settings {
		d.Restart = append(d.Restart, "settings")
	}
	if old.Telemetry.MetricsEnabled() != new.Telemetry.MetricsEnabled() || old.Telemetry.ServiceName != new.Telemetry.ServiceName {
		d.Restart = append(d.Restart, "telemetry")
	}
	return d
}

func level(p *float64) float64 {
	if p == nil {
		return 1
	}
	return *p
}
