package sound

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by the engine and its collaborators.
var (
	// ErrUnknownClip is returned by a [Catalog] when no definition has the
	// requested name.
	ErrUnknownClip = errors.New("sound: unknown clip")

	// ErrUnknownGroup is returned by a [MixerService] when a mixer group name
	// cannot be resolved.
	ErrUnknownGroup = errors.New("sound: unknown mixer group")

	// ErrAssetLoad wraps decoding and I/O failures reported by a [Loader].
	ErrAssetLoad = errors.New("sound: asset load failed")

	// ErrDegenerateAsset marks a definition without any asset variants. It is
	// a catalog build error and never surfaces at play time.
	ErrDegenerateAsset = errors.New("sound: definition has no asset variants")
)

// Catalog resolves clip definitions by name.
//
// Implementations must be safe for concurrent use.
type Catalog interface {
	// Lookup returns the definition registered under name. The error wraps
	// [ErrUnknownClip] when no such definition exists.
	Lookup(name string) (ClipDefinition, error)

	// Definitions returns every definition in catalog order.
	Definitions() []ClipDefinition
}

// RoutingHandle is the resolved output bus a voice plays through.
type RoutingHandle interface {
	// Group returns the mixer group name the handle was resolved from.
	Group() string

	// Gain returns the current linear gain of the bus, including any parent
	// buses. Output backends read it on every audio callback, so it must be
	// cheap and safe for concurrent use.
	Gain() float64
}

// MixerService owns named output buses and their persisted volume levels.
type MixerService interface {
	// ResolveGroup returns the routing handle for name. The error wraps
	// [ErrUnknownGroup] for unknown names.
	ResolveGroup(name string) (RoutingHandle, error)

	// SetGroupLevel applies an attenuation in decibels to the bus behind h.
	SetGroupLevel(h RoutingHandle, attenuationDB float64) error

	// GetPersistedDefault returns the persisted linear level in [0,1] for the
	// named group.
	GetPersistedDefault(ctx context.Context, name string) (float64, error)
}

// LevelPersister is implemented by mixer services that can save a user's
// linear group level so it survives restarts.
type LevelPersister interface {
	PersistLevel(ctx context.Context, name string, level float64) error
}

// LoadResult is delivered once on the channel returned by
// [Loader.RequestLoad].
type LoadResult struct {
	// Duration is the decoded length of the asset. Zero when Err is set.
	Duration time.Duration

	// Err wraps [ErrAssetLoad] when decoding failed.
	Err error
}

// Loader makes asset audio data resident.
//
// Implementations must be safe for concurrent use; RequestLoad must never
// block the caller.
type Loader interface {
	// IsResident reports whether the asset is decoded and returns its length.
	IsResident(a Asset) (time.Duration, bool)

	// RequestLoad starts decoding a (or joins an in-flight decode) and returns
	// a channel that receives exactly one [LoadResult].
	RequestLoad(a Asset) <-chan LoadResult
}

// Channel is one native audio-output channel. A voice owns exactly one
// channel for its whole life.
type Channel interface {
	// Start begins playback of a from the beginning at the given pitch ratio.
	Start(a Asset, pitch float64) error

	// SetVolume sets the linear amplitude applied before bus gain.
	SetVolume(v float64)

	// SetPitch changes the playback rate ratio.
	SetPitch(p float64)

	// Route attaches the channel to a bus. A nil handle detaches it.
	Route(h RoutingHandle)

	// Stop halts playback. Stopping an idle channel is a no-op.
	Stop()

	// Close releases the native resources of the channel.
	Close() error
}

// VoiceFactory creates native output channels on demand.
type VoiceFactory interface {
	CreateVoice() (Channel, error)
}

// Rand is the random source used for variant and pitch selection.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}
