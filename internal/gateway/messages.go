// Package gateway exposes meeting sessions to the browser over a websocket
// and a small REST API.
package gateway

import (
	"errors"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/session"
)

// Client actions sent as websocket text frames
const (
	ActionStart          = "start"
	ActionPause          = "pause"
	ActionResume         = "resume"
	ActionEnd            = "end"
	ActionHighlight      = "highlight"
	ActionNotes          = "notes"
	ActionDictationStart = "dictation_start"
	ActionDictationStop  = "dictation_stop"
	ActionDictation      = "dictation"
	ActionMicDenied      = "mic_denied"
)

// Server message types
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

// ErrUnknownAction is returned for client messages with an unrecognized type
var ErrUnknownAction = errors.New("unknown action")

// ClientMessage is a control action from the browser
type ClientMessage struct {
	Type   string `json:"type"`
	LineID string `json:"line_id,omitempty"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ServerMessage is pushed to the browser. Snapshot is set for snapshot
// messages, Action and Error for rejected actions.
type ServerMessage struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Action   string            `json:"action,omitempty"`
	Error    string            `json:"error,omitempty"`
}
