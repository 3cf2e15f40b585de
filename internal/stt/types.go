package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// EventType identifies the kind of a transcription event
type EventType string

const (
	// EventWord is one incremental token for the active speaker
	EventWord EventType = "word"
	// EventSegmentComplete closes the current utterance
	EventSegmentComplete EventType = "segment_complete"
	// EventTranscription is a whole utterance that always becomes its own line
	EventTranscription EventType = "transcription"
	// EventError is a transport-reported failure with human readable text
	EventError EventType = "error"
	// EventBatch carries one diarized batch response in Words
	EventBatch EventType = "batch"
)

var (
	// ErrNotConnected is returned when sending audio before Start or after Stop
	ErrNotConnected = errors.New("transcription source is not connected")
	// ErrAlreadyStarted is returned by Start on a running source
	ErrAlreadyStarted = errors.New("transcription source already started")
	// ErrUnknownEventType is returned by ParseEvent for unrecognized types
	ErrUnknownEventType = errors.New("unknown transcription event type")
)

// Word is one diarized token of a batch response
type Word struct {
	Text      string  `json:"text"`
	SpeakerID *string `json:"speaker_id,omitempty"`
}

// Event is the normalized shape every transport produces
type Event struct {
	Type      EventType `json:"type"`
	Text      string    `json:"text"`
	SpeakerID *string   `json:"speaker_id,omitempty"`
	IsFinal   *bool     `json:"is_final,omitempty"`

	// Batch responses only
	Words []Word `json:"words,omitempty"`
	Seq   uint64 `json:"-"`

	// Fatal marks an error after which the transport is gone
	Fatal bool `json:"-"`
}

// Final reports whether the event was marked final by the transport
func (e Event) Final() bool {
	return e.IsFinal != nil && *e.IsFinal
}

// Handler receives events from a Source. It may be called from any goroutine.
type Handler func(Event)

// Source is a transcription transport. A Source is single use: after Stop
// a new instance must be created to record again.
type Source interface {
	// Start opens the transport. It must return before any audio is sent.
	Start(ctx context.Context) error

	// SendAudio forwards one PCM16 frame
	SendAudio(frame []byte) error

	// Stop closes the transport. Safe to call more than once.
	Stop() error

	// OnEvent registers the handler for inbound events
	OnEvent(h Handler)

	// Connected reports whether the transport currently holds an open connection
	Connected() bool
}

// Pauser is implemented by sources that can suspend without tearing down
type Pauser interface {
	Pause()
	Resume()
}

// RoleProvider is implemented by sources whose speaker ids map to fixed roles
type RoleProvider interface {
	SpeakerRoles() []string
}

// wireEvent tolerates numeric or string speaker ids
type wireEvent struct {
	Type      EventType       `json:"type"`
	Text      string          `json:"text"`
	SpeakerID json.RawMessage `json:"speaker_id"`
	IsFinal   *bool           `json:"is_final"`
}

// ParseEvent decodes one streaming transport message.
// Malformed payloads and unknown types return an error; callers log and drop them.
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode transcription event: %w", err)
	}

	switch w.Type {
	case EventWord, EventSegmentComplete, EventTranscription, EventError:
	case "":
		return Event{}, fmt.Errorf("%w: missing type", ErrUnknownEventType)
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, w.Type)
	}

	speakerID, err := parseSpeakerID(w.SpeakerID)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Type:      w.Type,
		Text:      w.Text,
		SpeakerID: speakerID,
		IsFinal:   w.IsFinal,
	}, nil
}

func parseSpeakerID(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return &s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode speaker_id %s: %w", raw, err)
	}
	s = n.String()
	return &s, nil
}

// SpeakerFromInt formats a numeric diarization speaker as an id
func SpeakerFromInt(n *int) *string {
	if n == nil {
		return nil
	}
	s := strconv.Itoa(*n)
	return &s
}
