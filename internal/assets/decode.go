package assets

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

var (
	// ErrUnsupportedFormat is returned when no decoder is registered for an
	// asset's file extension.
	ErrUnsupportedFormat = errors.New("assets: unsupported format")

	// ErrInvalidFile is returned when a container header cannot be parsed.
	ErrInvalidFile = errors.New("assets: invalid file")
)

// Decoder turns an encoded audio stream into resident PCM.
type Decoder interface {
	Decode(r io.ReadSeeker) (*PCM, error)
}

// DecoderFunc adapts a function to the [Decoder] interface.
type DecoderFunc func(r io.ReadSeeker) (*PCM, error)

// Decode implements [Decoder].
func (f DecoderFunc) Decode(r io.ReadSeeker) (*PCM, error) { return f(r) }

// Registry maps lower-case file extensions (".wav") to decoders.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// DefaultRegistry returns a registry with the WAV, AIFF, MP3 and Ogg Vorbis
// decoders installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(".wav", DecoderFunc(decodeWAV))
	r.Register(".wave", DecoderFunc(decodeWAV))
	r.Register(".aif", DecoderFunc(decodeAIFF))
	r.Register(".aiff", DecoderFunc(decodeAIFF))
	r.Register(".mp3", DecoderFunc(decodeMP3))
	r.Register(".ogg", DecoderFunc(decodeOgg))
	r.Register(".oga", DecoderFunc(decodeOgg))
	return r
}

// Register installs d for ext, replacing any previous decoder.
func (r *Registry) Register(ext string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(ext)] = d
}

// Get returns the decoder for ext.
func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.codecs[strings.ToLower(ext)]
	return d, ok
}

// ForPath returns the decoder matching the extension of p.
func (r *Registry) ForPath(p string) (Decoder, error) {
	ext := path.Ext(p)
	d, ok := r.Get(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return d, nil
}

const (
	// MaxChannels is the largest channel count a decoded asset may carry.
	MaxChannels = 32

	// MaxSampleRate is the highest sample rate a decoded asset may carry.
	MaxSampleRate = 768000

	// chunkFrames is the number of frames read per decoder call.
	chunkFrames = 4096
)

// checkLayout rejects channel counts and sample rates outside the supported
// range. Both values come straight from file headers.
func checkLayout(channels, rate int) error {
	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf("pcm: %d channels: %w", channels, ErrInvalidFile)
	}
	if rate <= 0 || rate > MaxSampleRate {
		return fmt.Errorf("pcm: sample rate %d: %w", rate, ErrInvalidFile)
	}
	return nil
}

// intReader is the part of the go-audio wav and aiff decoders used here.
type intReader interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

func decodeWAV(r io.ReadSeeker) (*PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav: %w", ErrInvalidFile)
	}
	dec.ReadInfo()
	depth := int(dec.BitDepth)
	offset := 0
	if depth == 8 {
		// 8-bit WAV samples are unsigned.
		offset = -128
	}
	return readInts(dec, depth, offset)
}

func decodeAIFF(r io.ReadSeeker) (*PCM, error) {
	dec := aiff.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("aiff: %w", ErrInvalidFile)
	}
	dec.ReadInfo()
	return readInts(dec, int(dec.BitDepth), 0)
}

// readInts drains an integer PCM decoder into normalized float32 samples.
func readInts(src intReader, bitDepth, offset int) (*PCM, error) {
	format := src.Format()
	if format == nil {
		return nil, fmt.Errorf("pcm: missing format: %w", ErrInvalidFile)
	}
	if err := checkLayout(format.NumChannels, format.SampleRate); err != nil {
		return nil, err
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("pcm: bit depth %d: %w", bitDepth, ErrUnsupportedFormat)
	}
	scale := float32(int64(1) << (bitDepth - 1))

	buf := &goaudio.IntBuffer{
		Format:         format,
		Data:           make([]int, chunkFrames*format.NumChannels),
		SourceBitDepth: bitDepth,
	}
	out := &PCM{SampleRate: format.SampleRate, Channels: format.NumChannels}
	for {
		n, err := src.PCMBuffer(buf)
		for _, v := range buf.Data[:n] {
			out.Samples = append(out.Samples, float32(v+offset)/scale)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("pcm: read: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

func decodeMP3(r io.ReadSeeker) (*PCM, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3: read: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian interleaved stereo.
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		samples[i] = float32(v) / 32768
	}
	return &PCM{SampleRate: dec.SampleRate(), Channels: 2, Samples: samples}, nil
}

func decodeOgg(r io.ReadSeeker) (*PCM, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ogg: %w", err)
	}
	return &PCM{SampleRate: format.SampleRate, Channels: format.Channels, Samples: samples}, nil
}
