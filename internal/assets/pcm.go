// Package assets decodes audio files into resident PCM and implements the
// engine's [sound.Loader]: asynchronous loads with a single decode per asset,
// residency queries, duration probing and parallel preloading.
package assets

import "time"

// PCM is decoded, interleaved audio with samples normalized to [-1, 1].
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames.
func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Duration returns the playback length at the native sample rate.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(p.Frames()) * int64(time.Second) / int64(p.SampleRate))
}

// Stereo returns frame i as a left/right pair. Mono is duplicated to both
// sides; channels beyond the second are ignored. Out-of-range frames are
// silent.
func (p *PCM) Stereo(i int) (l, r float32) {
	if i < 0 || i >= p.Frames() {
		return 0, 0
	}
	base := i * p.Channels
	if p.Channels == 1 {
		v := p.Samples[base]
		return v, v
	}
	return p.Samples[base], p.Samples[base+1]
}
