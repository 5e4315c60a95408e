package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/cuemix/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

const diffBase = `
server:
  log_level: info
groups:
  - name: Effects
    default: 0.8
  - name: Music
`

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(mustLoad(t, diffBase), mustLoad(t, diffBase))
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		next        string
		wantLevel   bool
		wantRestart []string
		wantGroups  []config.GroupDiff
	}{
		{
			name: "log level only",
			next: `
server:
  log_level: debug
groups:
  - name: Effects
    default: 0.8
  - name: Music
`,
			wantLevel: true,
		},
		{
			name: "group default changed",
			next: `
server:
  log_level: info
groups:
  - name: Effects
    default: 0.5
  - name: Music
`,
			wantRestart: []string{"groups"},
			wantGroups:  []config.GroupDiff{{Name: "Effects", OldDefault: 0.8, NewDefault: 0.5}},
		},
		{
			name: "group added and removed",
			next: `
server:
  log_level: info
groups:
  - name: Effects
    default: 0.8
  - name: Voice
    default: 0.7
`,
			wantRestart: []string{"groups"},
			wantGroups: []config.GroupDiff{
				{Name: "Music", OldDefault: 1, Removed: true},
				{Name: "Voice", NewDefault: 0.7, Added: true},
			},
		},
		{
			name: "restart-only settings",
			next: `
server:
  log_level: info
  listen_addr: ":9999"
engine:
  fallback_clip: Beep
output:
  backend: headless
groups:
  - name: Effects
    default: 0.8
  - name: Music
`,
			wantRestart: []string{"server.listen_addr", "engine", "output"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := config.Diff(mustLoad(t, diffBase), mustLoad(t, tc.next))
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if tc.wantLevel && d.NewLogLevel != config.LogDebug {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if !slices.Equal(d.Restart, tc.wantRestart) {
				t.Errorf("Restart = %v, want %v", d.Restart, tc.wantRestart)
			}
			if !slices.Equal(d.GroupChanges, tc.wantGroups) {
				t.Errorf("GroupChanges = %+v, want %+v", d.GroupChanges, tc.wantGroups)
			}
			if !d.Changed() {
				t.Error("Changed = false")
			}
		})
	}
}
