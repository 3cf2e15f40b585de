package stt

import (
	"errors"
	"testing"
)

func TestParseEvent_Word(t *testing.T) {
	e, err := ParseEvent([]byte(`{"type":"word","text":"hello","speaker_id":"spk_a","is_final":true}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if e.Type != EventWord {
		t.Errorf("Expected type word, got %s", e.Type)
	}
	if e.Text != "hello" {
		t.Errorf("Expected text 'hello', got '%s'", e.Text)
	}
	if e.SpeakerID == nil || *e.SpeakerID != "spk_a" {
		t.Errorf("Expected speaker 'spk_a', got %v", e.SpeakerID)
	}
	if !e.Final() {
		t.Error("Expected event to be final")
	}
}

func TestParseEvent_SpeakerVariants(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected *string
	}{
		{"numeric", `{"type":"word","text":"a","speaker_id":2}`, strPtr("2")},
		{"null", `{"type":"word","text":"a","speaker_id":null}`, nil},
		{"empty", `{"type":"word","text":"a","speaker_id":""}`, nil},
		{"missing", `{"type":"word","text":"a"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseEvent([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseEvent failed: %v", err)
			}
			if tt.expected == nil {
				if e.SpeakerID != nil {
					t.Errorf("Expected nil speaker, got %s", *e.SpeakerID)
				}
				return
			}
			if e.SpeakerID == nil || *e.SpeakerID != *tt.expected {
				t.Errorf("Expected speaker %s, got %v", *tt.expected, e.SpeakerID)
			}
		})
	}
}

func TestParseEvent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		unknown bool
	}{
		{"not json", `not json`, false},
		{"unknown type", `{"type":"partial","text":"x"}`, true},
		{"missing type", `{"text":"x"}`, true},
		{"batch is internal", `{"type":"batch"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.payload))
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.unknown && !errors.Is(err, ErrUnknownEventType) {
				t.Errorf("Expected ErrUnknownEventType, got %v", err)
			}
		})
	}
}

func TestParseEvent_SegmentAndError(t *testing.T) {
	e, err := ParseEvent([]byte(`{"type":"segment_complete"}`))
	if err != nil || e.Type != EventSegmentComplete {
		t.Errorf("Expected segment_complete, got %v (err %v)", e.Type, err)
	}

	e, err = ParseEvent([]byte(`{"type":"error","text":"backend overloaded"}`))
	if err != nil || e.Type != EventError || e.Text != "backend overloaded" {
		t.Errorf("Expected error event, got %+v (err %v)", e, err)
	}
	if e.Fatal {
		t.Error("Expected relay error events to be non-fatal")
	}
}

func TestSpeakerFromInt(t *testing.T) {
	if SpeakerFromInt(nil) != nil {
		t.Error("Expected nil for nil speaker")
	}
	n := 0
	if got := SpeakerFromInt(&n); got == nil || *got != "0" {
		t.Errorf("Expected '0', got %v", got)
	}
}

func strPtr(s string) *string { return &s }
