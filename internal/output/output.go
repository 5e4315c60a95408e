// Package output holds what the native voice backends share: the source of
// decoded audio, the per-channel settings every created voice inherits and a
// few helpers for reading routed gain safely from audio callbacks.
//
// The backends live in subpackages: beepout (a gopxl/beep streamer graph on
// the system speaker), otoout (one ebitengine/oto player per voice) and
// headless (no device; records what would be played).
package output

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/MrWong99/cuemix/internal/assets"
	"github.com/MrWong99/cuemix/pkg/sound"
)

// Backend names accepted in configuration.
const (
	BackendBeep     = "beep"
	BackendOto      = "oto"
	BackendHeadless = "headless"
)

// Default device settings.
const (
	DefaultSampleRate = 48000
	DefaultBuffer     = 100 * time.Millisecond
)

// MinPitch is the smallest playback ratio a backend will resample at. Lower
// requested pitches are raised to it.
const MinPitch = 0.01

// Source provides decoded audio for an asset. [*assets.Loader] implements it.
type Source interface {
	PCM(a sound.Asset) (*assets.PCM, error)
}

var _ Source = (*assets.Loader)(nil)

// Config is applied to every channel a backend creates.
type Config struct {
	SampleRate int           `yaml:"sample_rate"`
	Buffer     time.Duration `yaml:"buffer"`
}

// WithDefaults returns c with zero fields replaced by their defaults.
func (c Config) WithDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	return c
}

// BufferFrames returns the device buffer length in frames.
func (c Config) BufferFrames() int {
	c = c.WithDefaults()
	return max(1, int(int64(c.SampleRate)*int64(c.Buffer)/int64(time.Second)))
}

// Validate reports unusable settings.
func (c Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 384000 {
		return fmt.Errorf("output: sample_rate %d is out of range", c.SampleRate)
	}
	if c.Buffer < 0 || c.Buffer > 2*time.Second {
		return fmt.Errorf("output: buffer %v is out of range", c.Buffer)
	}
	return nil
}

// Float is a float64 that can be shared between the engine goroutine and an
// audio callback.
type Float struct{ bits atomic.Uint64 }

// Load returns the current value.
func (f *Float) Load() float64 { return math.Float64frombits(f.bits.Load()) }

// Store sets the value.
func (f *Float) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// Route holds the routing handle of a channel for lock-free reads.
type Route struct{ p atomic.Pointer[sound.RoutingHandle] }

// Store attaches h; nil detaches.
func (r *Route) Store(h sound.RoutingHandle) {
	if h == nil {
		r.p.Store(nil)
		return
	}
	r.p.Store(&h)
}

// Load returns the attached handle or nil.
func (r *Route) Load() sound.RoutingHandle {
	if p := r.p.Load(); p != nil {
		return *p
	}
	return nil
}

// Gain returns the gain of the attached bus, or 1 when unrouted.
func (r *Route) Gain() float64 {
	if h := r.Load(); h != nil {
		return h.Gain()
	}
	return 1
}

// ClampPitch bounds p to [MinPitch, +inf).
func ClampPitch(p float64) float64 {
	if math.IsNaN(p) || p < MinPitch {
		return MinPitch
	}
	return p
}
