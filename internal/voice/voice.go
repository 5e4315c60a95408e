// Package voice manages leased playback voices: the growable [Pool] that hands
// them out and takes them back, and the [Registry] that tracks which voices are
// currently playing which clip definition.
//
// A [Voice] wraps exactly one [sound.Channel]. While idle it is owned by the
// pool; while leased it is owned exclusively by the playback scheduler and is
// never shared between two concurrent plays.
package voice

import (
	"fmt"

	"github.com/MrWong99/cuemix/pkg/sound"
)

// Voice is one leased unit of audio-output capability.
type Voice struct {
	id      uint64
	ch      sound.Channel
	idle    bool
	asset   sound.Asset
	volume  float64
	pitch   float64
	routing sound.RoutingHandle
}

// ID returns the pool-unique identifier of the voice. IDs are assigned in
// creation order starting at 1.
func (v *Voice) ID() uint64 { return v.id }

// Idle reports whether the voice is currently owned by the pool.
func (v *Voice) Idle() bool { return v.idle }

// Asset returns the asset most recently started on the voice.
func (v *Voice) Asset() sound.Asset { return v.asset }

// Volume returns the last linear volume applied to the channel.
func (v *Voice) Volume() float64 { return v.volume }

// Pitch returns the pitch ratio of the current cycle.
func (v *Voice) Pitch() float64 { return v.pitch }

// Routing returns the bus the voice is attached to, or nil when unrouted.
func (v *Voice) Routing() sound.RoutingHandle { return v.routing }

// Start begins playback of a on the underlying channel.
func (v *Voice) Start(a sound.Asset, pitch float64) error {
	if err := v.ch.Start(a, pitch); err != nil {
		return fmt.Errorf("voice %d: start %q: %w", v.id, a.Path, err)
	}
	v.asset = a
	v.pitch = pitch
	return nil
}

// SetVolume applies a linear volume to the channel.
func (v *Voice) SetVolume(vol float64) {
	v.volume = vol
	v.ch.SetVolume(vol)
}

// SetPitch changes the playback rate of the running asset.
func (v *Voice) SetPitch(p float64) {
	v.pitch = p
	v.ch.SetPitch(p)
}

// Route attaches the voice to h. A nil handle detaches it.
func (v *Voice) Route(h sound.RoutingHandle) {
	v.routing = h
	v.ch.Route(h)
}

// reset returns the voice to its idle shape: stopped, silent, unrouted.
func (v *Voice) reset() {
	v.ch.Stop()
	v.ch.SetVolume(0)
	v.ch.Route(nil)
	v.volume = 0
	v.routing = nil
	v.idle = true
}
