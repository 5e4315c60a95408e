// Package otoout plays every voice on its own ebitengine/oto player. All
// players share one process-wide oto context, which oto allows to be created
// only once.
package otoout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/cuemix/internal/assets"
	"github.com/MrWong99/cuemix/internal/output"
	"github.com/MrWong99/cuemix/pkg/sound"
)

var _ sound.VoiceFactory = (*Output)(nil)

// ErrClosed is returned when a closed channel is started.
var ErrClosed = errors.New("otoout: channel closed")

const (
	channelCount   = 2
	bytesPerSample = 4
	bytesPerFrame  = channelCount * bytesPerSample
)

var (
	ctxOnce sync.Once
	ctxErr  error
	shared  *oto.Context
	ctxRate int
)

// sharedContext returns the shared oto context, creating it on first use.
func sharedContext(cfg output.Config) (*oto.Context, error) {
	ctxOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: channelCount,
			Format:       oto.FormatFloat32LE,
			BufferSize:   cfg.Buffer,
		}
		c, ready, err := oto.NewContext(op)
		if err != nil {
			ctxErr = fmt.Errorf("otoout: new context: %w", err)
			return
		}
		<-ready
		shared, ctxRate = c, cfg.SampleRate
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	if ctxRate != cfg.SampleRate {
		return nil, fmt.Errorf("otoout: context already running at %d Hz, %d requested", ctxRate, cfg.SampleRate)
	}
	return shared, nil
}

// Option configures an [Output].
type Option func(*Output)

// WithLogger sets the logger used for device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *Output) { o.log = l }
}

// Output is a [sound.VoiceFactory] creating one oto player per voice.
type Output struct {
	cfg output.Config
	src output.Source
	log *slog.Logger
	ctx *oto.Context
}

// New opens the shared oto context and returns an output using it.
func New(src output.Source, cfg output.Config, opts ...Option) (*Output, error) {
	cfg = cfg.WithDefaults()
	o := &Output{cfg: cfg, src: src, log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	c, err := sharedContext(cfg)
	if err != nil {
		return nil, err
	}
	o.ctx = c
	o.log.Info("otoout: device ready", "sample_rate", cfg.SampleRate, "buffer", cfg.Buffer)
	return o, nil
}

// CreateVoice implements [sound.VoiceFactory].
func (o *Output) CreateVoice() (sound.Channel, error) {
	s := newStream(o.cfg.SampleRate)
	p := o.ctx.NewPlayer(s)
	p.SetBufferSize(o.cfg.BufferFrames() * bytesPerFrame)
	return &channel{o: o, s: s, p: p}, nil
}

type channel struct {
	o *Output
	s *stream
	p *oto.Player

	mu     sync.Mutex
	closed bool
}

func (c *channel) Start(a sound.Asset, pitch float64) error {
	pcm, err := c.o.src.PCM(a)
	if err != nil {
		return fmt.Errorf("otoout: start %q: %w", a.Path, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.s.load(pcm, pitch)
	c.p.Play()
	return nil
}

func (c *channel) SetVolume(v float64)         { c.s.volume.Store(v) }
func (c *channel) SetPitch(p float64)          { c.s.setPitch(p) }
func (c *channel) Route(h sound.RoutingHandle) { c.s.route.Store(h) }

func (c *channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.p.Pause()
	c.s.load(nil, 1)
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.s.load(nil, 1)
	c.p.Pause()
	c.p.Close()
	return nil
}

// stream renders one voice as interleaved float32 little-endian stereo. It
// steps through the source at pitch × source rate / output rate with linear
// interpolation and applies voice volume and bus gain per read.
type stream struct {
	outRate int
	volume  output.Float
	route   output.Route

	mu   sync.Mutex
	pcm  *assets.PCM
	pos  float64
	step float64
}

func newStream(outRate int) *stream {
	return &stream{outRate: outRate}
}

func (s *stream) load(pcm *assets.PCM, pitch float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcm = pcm
	s.pos = 0
	s.step = s.stepFor(pitch)
}

func (s *stream) setPitch(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = s.stepFor(p)
}

// stepFor returns source frames per output frame. Caller holds s.mu.
func (s *stream) stepFor(pitch float64) float64 {
	if s.pcm == nil {
		return 0
	}
	return float64(s.pcm.SampleRate) / float64(s.outRate) * output.ClampPitch(pitch)
}

// Read implements io.Reader. It never returns an error; once the source is
// exhausted it produces silence.
func (s *stream) Read(p []byte) (int, error) {
	gain := s.volume.Load() * s.route.Gain()
	frames := len(p) / bytesPerFrame

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range frames {
		var l, r float64
		if s.pcm != nil {
			l, r = s.sample()
			s.pos += s.step
		}
		off := i * bytesPerFrame
		binary.LittleEndian.PutUint32(p[off:], math.Float32bits(float32(l*gain)))
		binary.LittleEndian.PutUint32(p[off+bytesPerSample:], math.Float32bits(float32(r*gain)))
	}
	clear(p[frames*bytesPerFrame:])
	return len(p), nil
}

// sample interpolates the frame at s.pos. Caller holds s.mu.
func (s *stream) sample() (float64, float64) {
	i := int(s.pos)
	if i >= s.pcm.Frames() {
		s.pcm = nil
		return 0, 0
	}
	frac := s.pos - float64(i)
	l0, r0 := s.pcm.Stereo(i)
	l1, r1 := s.pcm.Stereo(i + 1)
	if i+1 >= s.pcm.Frames() {
		l1, r1 = l0, r0
	}
	return float64(l0) + frac*float64(l1-l0), float64(r0) + frac*float64(r1-r0)
}
