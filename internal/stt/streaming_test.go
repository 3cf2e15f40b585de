package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/resilience"
)

var upgrader = websocket.Upgrader{}

// eventRecorder collects events delivered from the read goroutine
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan struct{}, 64)}
}

func (r *eventRecorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]Event(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()

		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("Timed out waiting for %d events", n)
		}
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func fastReconnect(attempts int) *resilience.ReconnectConfig {
	return &resilience.ReconnectConfig{
		MaxAttempts: attempts,
		Backoff:     time.Millisecond,
		Multiplier:  1,
		MaxBackoff:  time.Millisecond,
	}
}

func TestStreamingSource_RoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mt, data, err := conn.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			return
		}
		received <- data

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"word","text":"hello","speaker_id":"a"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"segment_complete"}`))

		conn.ReadMessage()
	}))
	defer server.Close()

	rec := newEventRecorder()
	src := NewStreamingSource(wsURL(server), fastReconnect(1), zerolog.Nop())
	src.OnEvent(rec.handle)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	if !src.Connected() {
		t.Error("Expected source to be connected")
	}

	frame := make([]byte, 8192)
	frame[0] = 7
	if err := src.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	select {
	case data := <-received:
		if len(data) != 8192 || data[0] != 7 {
			t.Errorf("Expected the 8192-byte frame, got %d bytes", len(data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for audio frame")
	}

	events := rec.waitFor(t, 2)
	if events[0].Type != EventWord || events[0].Text != "hello" {
		t.Errorf("Expected word 'hello', got %+v", events[0])
	}
	if events[1].Type != EventSegmentComplete {
		t.Errorf("Expected malformed message to be dropped, got %+v", events[1])
	}
}

func TestStreamingSource_NormalCloseIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}))
	defer server.Close()

	rec := newEventRecorder()
	src := NewStreamingSource(wsURL(server), fastReconnect(3), zerolog.Nop())
	src.OnEvent(rec.handle)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	events := rec.waitFor(t, 1)
	if events[0].Type != EventError || !events[0].Fatal {
		t.Errorf("Expected fatal error event, got %+v", events[0])
	}
	if src.Connected() {
		t.Error("Expected source to be disconnected")
	}
}

func TestStreamingSource_ReconnectsAfterDrop(t *testing.T) {
	var connections int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if atomic.AddInt32(&connections, 1) == 1 {
			// Drop without a close frame
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcription","text":"back again"}`))
		conn.ReadMessage()
	}))
	defer server.Close()

	rec := newEventRecorder()
	src := NewStreamingSource(wsURL(server), fastReconnect(3), zerolog.Nop())
	src.OnEvent(rec.handle)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Stop()

	events := rec.waitFor(t, 2)
	if events[0].Type != EventError || events[0].Fatal {
		t.Errorf("Expected non-fatal reconnecting notice, got %+v", events[0])
	}
	if events[1].Type != EventTranscription || events[1].Text != "back again" {
		t.Errorf("Expected transcription after reconnect, got %+v", events[1])
	}
}

func TestStreamingSource_StartFailure(t *testing.T) {
	src := NewStreamingSource("ws://127.0.0.1:1/ws", fastReconnect(1), zerolog.Nop())
	if err := src.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail for an unreachable relay")
	}
	if err := src.SendAudio([]byte{0, 0}); err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestStreamingSource_StopIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	src := NewStreamingSource(wsURL(server), fastReconnect(1), zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}

	src.Stop()
	if err := src.Stop(); err != nil {
		t.Errorf("Expected second Stop to succeed, got %v", err)
	}
	if src.Connected() {
		t.Error("Expected source to be disconnected after Stop")
	}
}
