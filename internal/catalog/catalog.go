// Package catalog is the clip-definition registry: it loads definitions from
// YAML, validates them, and serves lookups by name to the playback engine.
//
// Example catalog file:
//
//	clips:
//	  - name: Footstep
//	    mixer_group: Effects
//	    pitch: { min: 0.9, max: 1.1 }
//	    assets:
//	      - path: sfx/step1.wav
//	      - path: sfx/step2.wav
//	  - name: Theme
//	    mixer_group: Music
//	    loop: true
//	    mode: overwrite
//	    fade: { mode: time, in: 2, out: 3 }
//	    assets:
//	      - path: music/theme.ogg
package catalog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/cuemix/pkg/sound"
)

// Compile-time interface assertion.
var _ sound.Catalog = (*Catalog)(nil)

// suggestThreshold is the minimum Jaro-Winkler similarity for [Catalog.Suggest].
const suggestThreshold = 0.8

// ErrDuplicateName is wrapped by validation errors for repeated clip names.
var ErrDuplicateName = errors.New("catalog: duplicate clip name")

// File is the top-level structure of a catalog YAML file.
type File struct {
	Clips []sound.ClipDefinition `yaml:"clips"`
}

// LoadFile reads and parses a catalog YAML file from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %q: %w", path, err)
	}
	return cf, nil
}

// LoadFromReader parses catalog YAML from r. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*File, error) {
	var cf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}
	return &cf, nil
}

// Prober reports the length of an asset. [*assets.Loader] satisfies it.
type Prober interface {
	Probe(a sound.Asset) (time.Duration, error)
}

// Option configures a [Catalog] during construction.
type Option func(*Catalog)

// WithProber fills in missing asset durations at build time.
func WithProber(p Prober) Option {
	return func(c *Catalog) { c.prober = p }
}

// WithLogger sets the logger used for build diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.log = l }
}

// Catalog is an in-memory, validated set of clip definitions. It is safe for
// concurrent use; [Catalog.Replace] swaps the whole set atomically.
type Catalog struct {
	prober Prober
	log    *slog.Logger

	mu     sync.RWMutex
	defs   []sound.ClipDefinition
	byName map[string]int
}

// New builds a catalog from defs. Defaults are applied and missing durations
// probed before validation; an invalid set is rejected as a whole.
func New(defs []sound.ClipDefinition, opts ...Option) (*Catalog, error) {
	c := &Catalog{log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if err := c.Replace(defs); err != nil {
		return nil, err
	}
	return c, nil
}

// Open loads, validates and builds the catalog file at path.
func Open(path string, opts ...Option) (*Catalog, error) {
	cf, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(cf.Clips, opts...)
}

// Replace validates defs and, if valid, swaps them in. On error the current
// set is left untouched.
func (c *Catalog) Replace(defs []sound.ClipDefinition) error {
	prepared := c.prepare(defs)
	if err := Validate(prepared); err != nil {
		return err
	}
	byName := make(map[string]int, len(prepared))
	for i, d := range prepared {
		byName[d.Name] = i
	}

	c.mu.Lock()
	c.defs = prepared
	c.byName = byName
	c.mu.Unlock()
	return nil
}

// Lookup implements [sound.Catalog].
func (c *Catalog) Lookup(name string) (sound.ClipDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byName[name]
	if !ok {
		return sound.ClipDefinition{}, fmt.Errorf("catalog: %q: %w", name, sound.ErrUnknownClip)
	}
	return c.defs[i], nil
}

// Definitions implements [sound.Catalog]. The returned slice is a copy.
func (c *Catalog) Definitions() []sound.ClipDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.defs)
}

// Names returns every clip name in catalog order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.defs))
	for i, d := range c.defs {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}

// Groups returns the distinct non-empty mixer groups referenced by the
// catalog, in first-use order.
func (c *Catalog) Groups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var groups []string
	for _, d := range c.defs {
		if d.MixerGroup != "" && !slices.Contains(groups, d.MixerGroup) {
			groups = append(groups, d.MixerGroup)
		}
	}
	return groups
}

// Suggest returns the known clip name most similar to name, if any is close
// enough to be a likely typo.
func (c *Catalog) Suggest(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	best, bestScore := "", 0.0
	for _, d := range c.defs {
		if score := matchr.JaroWinkler(name, d.Name, false); score > bestScore {
			best, bestScore = d.Name, score
		}
	}
	if bestScore < suggestThreshold {
		return "", false
	}
	return best, true
}

// prepare copies defs, applies defaults and probes missing durations.
func (c *Catalog) prepare(defs []sound.ClipDefinition) []sound.ClipDefinition {
	out := make([]sound.ClipDefinition, len(defs))
	for i, d := range defs {
		d.ApplyDefaults()
		d.Assets = slices.Clone(d.Assets)
		if c.prober != nil {
			for j, a := range d.Assets {
				if a.Duration > 0 || a.Path == "" {
					continue
				}
				dur, err := c.prober.Probe(a)
				if err != nil {
					c.log.Warn("catalog: cannot probe asset duration", "clip", d.Name, "asset", a.Path, "err", err)
					continue
				}
				d.Assets[j].Duration = dur
			}
		}
		out[i] = d
	}
	return out
}

// Validate checks every definition and reports duplicate names. It returns a
// joined error listing all problems found.
func Validate(defs []sound.ClipDefinition) error {
	var errs []error
	seen := make(map[string]int, len(defs))
	for i, d := range defs {
		prefix := fmt.Sprintf("clips[%d]", i)
		if d.Name != "" {
			if prev, ok := seen[d.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q: %w of clips[%d]", prefix, d.Name, ErrDuplicateName, prev))
			} else {
				seen[d.Name] = i
			}
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s (%s): %w", prefix, d.Name, err))
		}
	}
	return errors.Join(errs...)
}
