// Package beepout plays voices through a gopxl/beep streamer graph on the
// system speaker.
//
// Every channel is one streamer permanently attached to a shared
// [beep.Mixer]. A playing channel chains decoded PCM through a
// [beep.Resampler] (sample-rate conversion and pitch) and an
// [effects.Volume] (voice volume), then scales by the routed bus gain read
// on every callback. Idle channels stream silence.
package beepout

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"

	"github.com/MrWong99/cuemix/internal/assets"
	"github.com/MrWong99/cuemix/internal/output"
	"github.com/MrWong99/cuemix/pkg/sound"
)

var _ sound.VoiceFactory = (*Output)(nil)

// ErrClosed is returned when a closed channel or output is used.
var ErrClosed = errors.New("beepout: closed")

// resampleQuality is the interpolation order passed to beep.ResampleRatio.
const resampleQuality = 4

// Option configures an [Output].
type Option func(*Output)

// WithLogger sets the logger used for device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *Output) { o.log = l }
}

// WithLocker replaces the speaker lock guarding the streamer graph. Outputs
// rendered without a device use their own mutex.
func WithLocker(l sync.Locker) Option {
	return func(o *Output) { o.lock = l }
}

type speakerLock struct{}

func (speakerLock) Lock()   { speaker.Lock() }
func (speakerLock) Unlock() { speaker.Unlock() }

// Output is a [sound.VoiceFactory] backed by beep.
type Output struct {
	cfg   output.Config
	sr    beep.SampleRate
	src   output.Source
	log   *slog.Logger
	lock  sync.Locker
	mixer *beep.Mixer

	mu      sync.Mutex
	opened  bool
	created int
}

// New returns an output producing audio at cfg's sample rate. Call
// [Output.Open] to attach it to the speaker.
func New(src output.Source, cfg output.Config, opts ...Option) *Output {
	cfg = cfg.WithDefaults()
	o := &Output{
		cfg:   cfg,
		sr:    beep.SampleRate(cfg.SampleRate),
		src:   src,
		log:   slog.Default(),
		lock:  speakerLock{},
		mixer: &beep.Mixer{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open initializes the speaker and starts streaming the mixer.
func (o *Output) Open() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.opened {
		return nil
	}
	if err := speaker.Init(o.sr, o.cfg.BufferFrames()); err != nil {
		return fmt.Errorf("beepout: init speaker: %w", err)
	}
	speaker.Play(o.mixer)
	o.opened = true
	o.log.Info("beepout: speaker ready", "sample_rate", o.cfg.SampleRate, "buffer", o.cfg.Buffer)
	return nil
}

// Close detaches the mixer and shuts the speaker down.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.opened {
		return nil
	}
	speaker.Clear()
	speaker.Close()
	o.opened = false
	return nil
}

// Streamer returns the root of the graph. It is what the speaker pulls from;
// outputs used without a device can be rendered by streaming it directly.
func (o *Output) Streamer() beep.Streamer { return o.mixer }

// Voices returns the number of channels attached to the mixer.
func (o *Output) Voices() int {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.mixer.Len()
}

// CreateVoice implements [sound.VoiceFactory].
func (o *Output) CreateVoice() (sound.Channel, error) {
	c := &channel{o: o, pitch: 1}
	o.lock.Lock()
	o.mixer.Add(c)
	o.lock.Unlock()

	o.mu.Lock()
	o.created++
	n := o.created
	o.mu.Unlock()
	o.log.Debug("beepout: voice created", "voices", n)
	return c, nil
}

// channel is a [sound.Channel] and a [beep.Streamer]. Fields below route are
// guarded by o.lock, which the speaker also holds while streaming.
type channel struct {
	o     *Output
	route output.Route

	rate    int
	pitch   float64
	volume  float64
	res     *beep.Resampler
	vol     *effects.Volume
	playing bool
	closed  bool
}

// Stream implements [beep.Streamer].
func (c *channel) Stream(samples [][2]float64) (int, bool) {
	if c.closed {
		return 0, false
	}
	if !c.playing {
		clear(samples)
		return len(samples), true
	}
	n, ok := c.vol.Stream(samples)
	g := c.route.Gain()
	for i := range samples[:n] {
		samples[i][0] *= g
		samples[i][1] *= g
	}
	clear(samples[n:])
	if !ok {
		c.playing = false
	}
	return len(samples), true
}

// Err implements [beep.Streamer].
func (c *channel) Err() error { return nil }

func (c *channel) Start(a sound.Asset, pitch float64) error {
	pcm, err := c.o.src.PCM(a)
	if err != nil {
		return fmt.Errorf("beepout: start %q: %w", a.Path, err)
	}
	c.o.lock.Lock()
	defer c.o.lock.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.rate = pcm.SampleRate
	c.pitch = output.ClampPitch(pitch)
	c.res = beep.ResampleRatio(resampleQuality, c.ratio(), &pcmStreamer{pcm: pcm})
	c.vol = &effects.Volume{Streamer: c.res, Base: 2}
	c.applyVolume()
	c.playing = true
	return nil
}

func (c *channel) SetVolume(v float64) {
	c.o.lock.Lock()
	defer c.o.lock.Unlock()
	c.volume = v
	c.applyVolume()
}

func (c *channel) SetPitch(p float64) {
	c.o.lock.Lock()
	defer c.o.lock.Unlock()
	c.pitch = output.ClampPitch(p)
	if c.res != nil {
		c.res.SetRatio(c.ratio())
	}
}

func (c *channel) Route(h sound.RoutingHandle) { c.route.Store(h) }

func (c *channel) Stop() {
	c.o.lock.Lock()
	defer c.o.lock.Unlock()
	c.playing = false
	c.res, c.vol = nil, nil
}

// Close marks the channel closed; the mixer drops it on its next pass.
func (c *channel) Close() error {
	c.o.lock.Lock()
	defer c.o.lock.Unlock()
	c.closed = true
	c.playing = false
	c.res, c.vol = nil, nil
	return nil
}

// ratio is the resampling step for the current asset rate and pitch.
func (c *channel) ratio() float64 {
	return float64(c.rate) / float64(c.o.sr) * c.pitch
}

// applyVolume maps the linear voice volume onto the exponential
// effects.Volume. Caller holds o.lock.
func (c *channel) applyVolume() {
	if c.vol == nil {
		return
	}
	if c.volume <= 0 {
		c.vol.Silent = true
		return
	}
	c.vol.Silent = false
	c.vol.Volume = math.Log2(c.volume)
}

// pcmStreamer streams resident PCM once.
type pcmStreamer struct {
	pcm *assets.PCM
	pos int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	frames := s.pcm.Frames()
	if s.pos >= frames {
		return 0, false
	}
	n := min(len(samples), frames-s.pos)
	for i := range n {
		l, r := s.pcm.Stereo(s.pos + i)
		samples[i] = [2]float64{float64(l), float64(r)}
	}
	s.pos += n
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }
