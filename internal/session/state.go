// Package session runs one meeting recording: microphone, transcription
// transport, transcript and timer, driven by a four-state machine.
package session

import "errors"

// State is the recording state of a session
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateEnded   State = "ENDED"
)

var (
	// ErrInvalidTransition is returned for a transition the state machine does not allow
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrNotEnded is returned when minutes are requested before the session ended
	ErrNotEnded = errors.New("session has not ended")
	// ErrNotFound is returned by the manager for unknown session ids
	ErrNotFound = errors.New("session not found")
)

// transitions lists the legal target states for each state. ENDED is terminal.
var transitions = map[State][]State{
	StateIdle:    {StateRunning},
	StateRunning: {StatePaused, StateEnded},
	StatePaused:  {StateRunning, StateEnded},
}

// CanTransition reports whether the state machine allows s -> to
func (s State) CanTransition(to State) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Active reports whether the session holds recording resources
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}
