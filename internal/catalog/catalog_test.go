package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cuemix/internal/catalog"
	"github.com/MrWong99/cuemix/pkg/sound"
)

const sampleYAML = `
clips:
  - name: Footstep
    mixer_group: Effects
    pitch: { min: 0.9, max: 1.1 }
    assets:
      - path: sfx/step1.wav
        duration: 300ms
      - path: sfx/step2.wav
  - name: Theme
    mixer_group: Music
    loop: true
    mode: overwrite
    fade: { mode: time, in: 2, out: 3 }
    assets:
      - path: music/theme.ogg
        duration: 1m30s
  - name: Debug
    assets:
      - path: sfx/debug.wav
        duration: 1s
`

type stubProber struct {
	mu    sync.Mutex
	calls []string
	d     time.Duration
	err   error
}

func (p *stubProber) Probe(a sound.Asset) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, a.Path)
	return p.d, p.err
}

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	cf, err := catalog.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if len(cf.Clips) != 3 {
		t.Fatalf("clips = %d, want 3", len(cf.Clips))
	}
	theme := cf.Clips[1]
	if !theme.Loop || theme.Mode != sound.PlayOverwrite || theme.Fade.Mode != sound.FadeTime {
		t.Errorf("theme decoded as %+v", theme)
	}
	if theme.Assets[0].Duration != 90*time.Second {
		t.Errorf("theme duration = %v, want 1m30s", theme.Assets[0].Duration)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := catalog.LoadFromReader(strings.NewReader("clips:\n  - name: X\n    volume: 2\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestNew_AppliesDefaultsAndProbes(t *testing.T) {
	t.Parallel()

	cf, err := catalog.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	p := &stubProber{d: 420 * time.Millisecond}
	c, err := catalog.New(cf.Clips, catalog.WithProber(p))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !slices.Equal(p.calls, []string{"sfx/step2.wav"}) {
		t.Errorf("probed %v, want only the asset without a duration", p.calls)
	}
	step, err := c.Lookup("Footstep")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if step.Assets[1].Duration != 420*time.Millisecond {
		t.Errorf("probed duration = %v", step.Assets[1].Duration)
	}
	if step.Scale() != 1 || step.Mode != sound.PlayBasic {
		t.Errorf("defaults not applied: %+v", step)
	}
	if cf.Clips[0].Assets[1].Duration != 0 {
		t.Error("New mutated the caller's definitions")
	}
}

func TestNew_ExplicitZeroVolumeScale(t *testing.T) {
	t.Parallel()

	const doc = `
clips:
  - name: Muted
    volume_scale: 0
    assets: [{path: a.wav}]
  - name: Plain
    assets: [{path: a.wav}]
`
	cf, err := catalog.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	c, err := catalog.New(cf.Clips)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for name, want := range map[string]float64{"Muted": 0, "Plain": 1} {
		def, err := c.Lookup(name)
		if err != nil {
			t.Fatal(err)
		}
		if got := def.Scale(); got != want {
			t.Errorf("%s Scale() = %v, want %v", name, got, want)
		}
	}
}

func TestNew_ProbeFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	defs := []sound.ClipDefinition{{Name: "A", Assets: []sound.Asset{{Path: "missing.wav"}}}}
	c, err := catalog.New(defs, catalog.WithProber(&stubProber{err: errors.New("no such file")}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d, _ := c.Lookup("A"); d.Assets[0].Duration != 0 {
		t.Errorf("duration = %v, want 0", d.Assets[0].Duration)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		defs    []sound.ClipDefinition
		wantErr error
		wantMsg string
	}{
		{
			name: "duplicate",
			defs: []sound.ClipDefinition{
				{Name: "A", Assets: []sound.Asset{{Path: "a.wav"}}},
				{Name: "A", Assets: []sound.Asset{{Path: "b.wav"}}},
			},
			wantErr: catalog.ErrDuplicateName,
			wantMsg: "clips[1]",
		},
		{
			name:    "no assets",
			defs:    []sound.ClipDefinition{{Name: "Empty"}},
			wantErr: sound.ErrDegenerateAsset,
			wantMsg: "Empty",
		},
		{
			name:    "bad mode",
			defs:    []sound.ClipDefinition{{Name: "M", Mode: "queue", Assets: []sound.Asset{{Path: "m.wav"}}}},
			wantMsg: "mode \"queue\"",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := catalog.New(tc.defs)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	t.Parallel()

	c, err := catalog.New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Lookup("Debug"); !errors.Is(err, sound.ErrUnknownClip) {
		t.Errorf("Lookup = %v, want ErrUnknownClip", err)
	}
}

func TestReplace_KeepsOldSetOnError(t *testing.T) {
	t.Parallel()

	c, err := catalog.New([]sound.ClipDefinition{{Name: "A", Assets: []sound.Asset{{Path: "a.wav"}}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Replace([]sound.ClipDefinition{{Name: "B"}}); err == nil {
		t.Fatal("Replace accepted an invalid set")
	}
	if _, err := c.Lookup("A"); err != nil {
		t.Errorf("old definition lost: %v", err)
	}
	if err := c.Replace([]sound.ClipDefinition{{Name: "B", Assets: []sound.Asset{{Path: "b.wav"}}}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, err := c.Lookup("A"); !errors.Is(err, sound.ErrUnknownClip) {
		t.Error("old definition still served after replace")
	}
}

func TestSuggestAndGroups(t *testing.T) {
	t.Parallel()

	cf, _ := catalog.LoadFromReader(strings.NewReader(sampleYAML))
	c, err := catalog.New(cf.Clips)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, ok := c.Suggest("Footstpe"); !ok || got != "Footstep" {
		t.Errorf("Suggest(Footstpe) = %q, %v", got, ok)
	}
	if _, ok := c.Suggest("zzzzzz"); ok {
		t.Error("Suggest matched an unrelated name")
	}
	if got := c.Groups(); !slices.Equal(got, []string{"Effects", "Music", "Master"}) {
		t.Errorf("Groups = %v", got)
	}
	if got := c.Names(); !slices.Equal(got, []string{"Footstep", "Theme", "Debug"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clips.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := catalog.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if _, err := catalog.Open(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Open of a missing file succeeded")
	}
}
