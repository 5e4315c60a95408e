// Package headless is a voice backend without an audio device. Channels keep
// the state a real device would be driven with, which makes the engine usable
// on servers and in CI and lets tests observe what would be heard.
package headless

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/cuemix/internal/output"
	"github.com/MrWong99/cuemix/pkg/sound"
)

var (
	_ sound.VoiceFactory = (*Factory)(nil)
	_ sound.Channel      = (*Channel)(nil)
)

// ErrClosed is returned when starting a closed channel.
var ErrClosed = errors.New("headless: channel closed")

// Option configures a [Factory].
type Option func(*Factory)

// WithSource makes Start fetch the asset's decoded audio so missing or
// undecodable files fail the same way they would on a device.
func WithSource(src output.Source) Option {
	return func(f *Factory) { f.src = src }
}

// WithLogger sets the logger used for channel events.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.log = l }
}

// Factory creates headless channels.
type Factory struct {
	src output.Source
	log *slog.Logger

	mu       sync.Mutex
	channels []*Channel
}

// New returns a headless factory.
func New(opts ...Option) *Factory {
	f := &Factory{log: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// CreateVoice implements [sound.VoiceFactory].
func (f *Factory) CreateVoice() (sound.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &Channel{id: len(f.channels), f: f}
	f.channels = append(f.channels, c)
	return c, nil
}

// Channels returns every channel created so far.
func (f *Factory) Channels() []*Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Channel, len(f.channels))
	copy(out, f.channels)
	return out
}

// Playing returns the number of channels currently playing.
func (f *Factory) Playing() int {
	n := 0
	for _, c := range f.Channels() {
		if c.State().Playing {
			n++
		}
	}
	return n
}

// State is a snapshot of a [Channel].
type State struct {
	Asset   sound.Asset
	Playing bool
	Closed  bool
	Volume  float64
	Pitch   float64
	Group   string
	Starts  int
}

// Gain returns the amplitude the channel would output at: its own volume
// times the routed bus gain.
func (s State) Gain(route sound.RoutingHandle) float64 {
	if route == nil {
		return s.Volume
	}
	return s.Volume * route.Gain()
}

// Channel is a [sound.Channel] without output.
type Channel struct {
	id    int
	f     *Factory
	route output.Route

	mu    sync.Mutex
	state State
}

// ID returns the creation index of the channel.
func (c *Channel) ID() int { return c.id }

// State returns a snapshot.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if h := c.route.Load(); h != nil {
		s.Group = h.Group()
	}
	return s
}

// Routing returns the attached bus, if any.
func (c *Channel) Routing() sound.RoutingHandle { return c.route.Load() }

// Start implements [sound.Channel].
func (c *Channel) Start(a sound.Asset, pitch float64) error {
	if c.f.src != nil {
		if _, err := c.f.src.PCM(a); err != nil {
			return fmt.Errorf("headless: start %q: %w", a.Path, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Closed {
		return ErrClosed
	}
	c.state.Asset = a
	c.state.Pitch = output.ClampPitch(pitch)
	c.state.Playing = true
	c.state.Starts++
	c.f.log.Debug("headless: start", "channel", c.id, "asset", a.Path, "pitch", c.state.Pitch)
	return nil
}

// SetVolume implements [sound.Channel].
func (c *Channel) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Volume = v
}

// SetPitch implements [sound.Channel].
func (c *Channel) SetPitch(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Pitch = output.ClampPitch(p)
}

// Route implements [sound.Channel].
func (c *Channel) Route(h sound.RoutingHandle) { c.route.Store(h) }

// Stop implements [sound.Channel].
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Playing = false
}

// Close implements [sound.Channel].
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Playing = false
	c.state.Closed = true
	return nil
}
