package playback

import (
	"fmt"
	"time"
)

// State is the lifecycle phase of one play instance.
type State int

const (
	// StateWaiting means the chosen asset is still loading. No voice is leased
	// unless the instance is a looping play waiting for its next variant.
	StateWaiting State = iota

	// StateStarting is the momentary phase in which a cycle's asset is started
	// on the voice.
	StateStarting

	// StateFadingIn ramps the voice from silence to its target volume.
	StateFadingIn

	// StateSustaining holds the target volume.
	StateSustaining

	// StateFadingOut ramps the voice from its target volume to silence.
	StateFadingOut

	// StateReleasing means the voice is about to be returned to the pool.
	StateReleasing

	// StateDone is terminal. The instance holds no voice.
	StateDone
)

var stateNames = [...]string{
	StateWaiting:    "waiting",
	StateStarting:   "starting",
	StateFadingIn:   "fading_in",
	StateSustaining: "sustaining",
	StateFadingOut:  "fading_out",
	StateReleasing:  "releasing",
	StateDone:       "done",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reason annotates transitions into [StateReleasing] and [StateDone].
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonCompleted  Reason = "completed"
	ReasonStopped    Reason = "stopped"
	ReasonEvicted    Reason = "evicted"
	ReasonLoadFailed Reason = "load_failed"
	ReasonDropped    Reason = "dropped"
	ReasonFailed     Reason = "failed"
	ReasonShutdown   Reason = "shutdown"
)

// Transition describes one state change of a play instance.
type Transition struct {
	// Instance is the scheduler-unique ID of the play instance.
	Instance uint64

	// Clip is the name of the definition being played.
	Clip string

	From, To State

	// Cycle counts completed loop cycles at the time of the transition.
	Cycle int

	// At is the scheduler clock when the transition happened: the sum of all
	// tick deltas so far plus the part of the current tick already consumed.
	At time.Duration

	Reason Reason
}

// Observer receives every transition synchronously, on the scheduling thread.
type Observer func(Transition)

// PitchPolicy selects when a random pitch is drawn for looping plays.
type PitchPolicy string

const (
	// PitchPerCycle draws a new pitch every time a loop cycle restarts.
	PitchPerCycle PitchPolicy = "per_cycle"

	// PitchPerPlay draws a pitch once and keeps it for every cycle.
	PitchPerPlay PitchPolicy = "per_play"
)

// IsValid reports whether p is a recognised pitch policy.
func (p PitchPolicy) IsValid() bool {
	switch p {
	case PitchPerCycle, PitchPerPlay:
		return true
	}
	return false
}
