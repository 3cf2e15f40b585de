// Package events publishes transcript and session changes to a message bus.
package events

import (
	"context"
	"time"
)

// TranscriptLineEvent is emitted whenever a transcript line is created or rewritten.
// Final is false while the line is still open for more words.
type TranscriptLineEvent struct {
	SessionID   string    `json:"sessionId"`
	LineID      string    `json:"lineId"`
	Speaker     string    `json:"speaker"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Highlighted bool      `json:"highlighted"`
	Created     bool      `json:"created"`
	Final       bool      `json:"final"`
}

// SessionStateEvent is emitted on every recording state transition
type SessionStateEvent struct {
	SessionID      string    `json:"sessionId"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	Lines          int       `json:"lines"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink receives session events. Implementations must be safe for concurrent use.
type Sink interface {
	PublishLine(ctx context.Context, event TranscriptLineEvent) error
	PublishSession(ctx context.Context, event SessionStateEvent) error
}
