// Package sound defines the shared vocabulary of the cuemix playback engine:
// clip definitions, play modes, fade policies, and the collaborator
// interfaces the engine talks to (catalog, mixer service, data loader, voice
// factory).
//
// Concrete implementations live under internal/ (catalog, bus, assets,
// output/...) and test doubles live in [github.com/MrWong99/cuemix/pkg/sound/mock].
package sound

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// PlayMode is the conflict policy applied when a definition is triggered while
// voices for the same definition are still active.
type PlayMode string

const (
	// PlayBasic always starts a new voice.
	PlayBasic PlayMode = "basic"

	// PlayOverwrite releases the oldest active voice before starting a new one.
	PlayOverwrite PlayMode = "overwrite"

	// PlayWait drops the new request while any voice is active.
	PlayWait PlayMode = "wait"
)

// IsValid reports whether m is a recognised play mode.
func (m PlayMode) IsValid() bool {
	switch m {
	case PlayBasic, PlayOverwrite, PlayWait:
		return true
	}
	return false
}

// FadeMode selects how fade durations are derived from a [FadePolicy].
type FadeMode string

const (
	// FadeNone disables fading entirely.
	FadeNone FadeMode = "none"

	// FadePercent interprets In and Out as fractions of the asset duration.
	FadePercent FadeMode = "percent"

	// FadeTime interprets In and Out as seconds, clamped to the asset duration.
	FadeTime FadeMode = "time"
)

// IsValid reports whether m is a recognised fade mode.
func (m FadeMode) IsValid() bool {
	switch m {
	case FadeNone, FadePercent, FadeTime:
		return true
	}
	return false
}

// FadePolicy describes the fade-in and fade-out ramps of a definition.
type FadePolicy struct {
	Mode FadeMode `yaml:"mode"`

	// In is a fraction in [0,1] for FadePercent or seconds for FadeTime.
	In float64 `yaml:"in"`

	// Out is a fraction in [0,1] for FadePercent or seconds for FadeTime.
	Out float64 `yaml:"out"`
}

// Durations returns the fade-in and fade-out durations for an asset of length
// d. The result always satisfies in+out <= d: when the configured ramps would
// overlap, fade-out is shortened to max(0, d-in).
func (p FadePolicy) Durations(d time.Duration) (in, out time.Duration) {
	if d <= 0 {
		return 0, 0
	}
	switch p.Mode {
	case FadePercent:
		in = time.Duration(math.Round(clamp01(p.In) * float64(d)))
		out = time.Duration(math.Round(clamp01(p.Out) * float64(d)))
	case FadeTime:
		in = seconds(p.In, d)
		out = seconds(p.Out, d)
	default:
		return 0, 0
	}
	if in+out > d {
		out = max(0, d-in)
	}
	return in, out
}

// PitchRange is the inclusive pitch interval sampled per play. A degenerate
// range (Min == Max) yields a fixed pitch.
type PitchRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Sample draws a pitch from the range using r.
func (p PitchRange) Sample(r Rand) float64 {
	if p.Min == p.Max {
		return p.Min
	}
	return p.Min + r.Float64()*(p.Max-p.Min)
}

// Asset is one interchangeable audio file of a definition.
type Asset struct {
	// Path locates the audio data, relative to the loader's asset root.
	Path string `yaml:"path"`

	// Duration is the declared or probed length of the asset. It is used as
	// the playback estimate while the asset is still loading.
	Duration time.Duration `yaml:"duration"`
}

// ClipDefinition is the named, reusable description of a sound and its
// playback policy. Definitions are immutable for the lifetime of a play.
type ClipDefinition struct {
	Name string `yaml:"name"`

	// VolumeScale multiplies the caller's volume, within [0, 5]. Nil means 1;
	// an explicit 0 mutes the definition.
	VolumeScale *float64 `yaml:"volume_scale"`

	Pitch      PitchRange `yaml:"pitch"`
	Fade       FadePolicy `yaml:"fade"`
	Loop       bool       `yaml:"loop"`
	Mode       PlayMode   `yaml:"mode"`
	MixerGroup string     `yaml:"mixer_group"`
	Assets     []Asset    `yaml:"assets"`

	// Preload requests that every asset is decoded at engine startup.
	Preload bool `yaml:"preload"`
}

// Pick returns one asset chosen uniformly at random, or the sole asset when
// the definition has exactly one. Pick panics on a definition without assets;
// such definitions are rejected by [ClipDefinition.Validate].
func (d *ClipDefinition) Pick(r Rand) Asset {
	if len(d.Assets) == 1 {
		return d.Assets[0]
	}
	return d.Assets[r.IntN(len(d.Assets))]
}

// DefaultMixerGroup is the root bus definitions play through when they name
// no group.
const DefaultMixerGroup = "Master"

// Scale returns the volume scale, 1 when unset.
func (d *ClipDefinition) Scale() float64 {
	if d.VolumeScale == nil {
		return 1
	}
	return *d.VolumeScale
}

// ApplyDefaults fills zero-valued optional fields with their defaults:
// pitch 1, fade mode none, play mode basic, mixer group
// [DefaultMixerGroup]. An unset volume scale stays nil; see [ClipDefinition.Scale].
func (d *ClipDefinition) ApplyDefaults() {
	if d.Pitch.Min == 0 && d.Pitch.Max == 0 {
		d.Pitch = PitchRange{Min: 1, Max: 1}
	}
	if d.Fade.Mode == "" {
		d.Fade.Mode = FadeNone
	}
	if d.Mode == "" {
		d.Mode = PlayBasic
	}
	if d.MixerGroup == "" {
		d.MixerGroup = DefaultMixerGroup
	}
}

// Validate checks the definition's ranges and returns a joined error listing
// every problem found.
func (d *ClipDefinition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if v := d.Scale(); !within(v, 0, 5) {
		errs = append(errs, fmt.Errorf("volume_scale %.2f is out of range [0, 5]", v))
	}
	if !within(d.Pitch.Min, 0, 2) || !within(d.Pitch.Max, 0, 2) {
		errs = append(errs, fmt.Errorf("pitch [%.2f, %.2f] is out of range [0, 2]", d.Pitch.Min, d.Pitch.Max))
	} else if d.Pitch.Min > d.Pitch.Max {
		errs = append(errs, fmt.Errorf("pitch.min %.2f is greater than pitch.max %.2f", d.Pitch.Min, d.Pitch.Max))
	}
	if !d.Fade.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("fade.mode %q is invalid; valid values: none, percent, time", d.Fade.Mode))
	}
	switch d.Fade.Mode {
	case FadePercent:
		if !within(d.Fade.In, 0, 1) || !within(d.Fade.Out, 0, 1) {
			errs = append(errs, fmt.Errorf("fade percentages [%.2f, %.2f] are out of range [0, 1]", d.Fade.In, d.Fade.Out))
		}
	case FadeTime:
		if !within(d.Fade.In, 0, math.MaxFloat64) || !within(d.Fade.Out, 0, math.MaxFloat64) {
			errs = append(errs, fmt.Errorf("fade times [%.2f, %.2f] must be finite and not negative", d.Fade.In, d.Fade.Out))
		}
	}
	if !d.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: basic, overwrite, wait", d.Mode))
	}
	if len(d.Assets) == 0 {
		errs = append(errs, ErrDegenerateAsset)
	}
	for i, a := range d.Assets {
		if a.Path == "" {
			errs = append(errs, fmt.Errorf("assets[%d].path is required", i))
		}
		if a.Duration < 0 {
			errs = append(errs, fmt.Errorf("assets[%d].duration must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// within reports whether lo <= v <= hi. NaN is never within a range.
func within(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func clamp01(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	return min(v, 1)
}

// seconds converts s to a duration no longer than limit. NaN and
// non-positive values yield 0.
func seconds(s float64, limit time.Duration) time.Duration {
	if !(s > 0) {
		return 0
	}
	if s >= limit.Seconds() {
		return limit
	}
	return time.Duration(s * float64(time.Second))
}
