package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/meetlink"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/minutes"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/session"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/stt"
)

type fakeSource struct {
	mu      sync.Mutex
	handler stt.Handler
	frames  int
	stopped bool
}

func (f *fakeSource) Start(context.Context) error { return nil }

func (f *fakeSource) SendAudio([]byte) error {
	f.mu.Lock()
	f.frames++
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) OnEvent(h stt.Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeSource) Connected() bool { return true }

func (f *fakeSource) emit(e stt.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(e)
}

func (f *fakeSource) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

type sourceRecorder struct {
	mu      sync.Mutex
	sources []*fakeSource
}

func (r *sourceRecorder) factory(zerolog.Logger, *observability.Metrics) (stt.Source, error) {
	src := &fakeSource{}
	r.mu.Lock()
	r.sources = append(r.sources, src)
	r.mu.Unlock()
	return src, nil
}

func (r *sourceRecorder) last() *fakeSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sources) == 0 {
		return nil
	}
	return r.sources[len(r.sources)-1]
}

type fakeSynth struct{ text string }

func (f fakeSynth) Complete(context.Context, string) (string, error) { return f.text, nil }

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager, *sourceRecorder) {
	t.Helper()
	rec := &sourceRecorder{}
	manager := session.NewManager(session.ManagerConfig{FrameSamples: 4, BufferSize: 64}, rec.factory, nil)

	srv := NewServer(manager, fakeSynth{text: "## Executive Summary\nShort."}, meetlink.NewRandomGenerator(),
		Options{SnapshotInterval: 20 * time.Millisecond})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		manager.CloseAll()
	})
	return ts, manager, rec
}

func dial(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads server messages until match returns true
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func inState(state session.State) func(ServerMessage) bool {
	return func(m ServerMessage) bool {
		return m.Type == MessageSnapshot && m.Snapshot.State == state
	}
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestStream_InitialSnapshot(t *testing.T) {
	ts, manager, _ := newTestServer(t)
	conn := dial(t, ts, "room-1")

	msg := readUntil(t, conn, func(ServerMessage) bool { return true })
	if msg.Type != MessageSnapshot || msg.Snapshot.ID != "room-1" {
		t.Errorf("Expected initial snapshot for room-1, got %+v", msg)
	}
	if msg.Snapshot.State != session.StateIdle {
		t.Errorf("Expected IDLE, got %s", msg.Snapshot.State)
	}
	if manager.Count() != 1 {
		t.Errorf("Expected session to be created, got %d", manager.Count())
	}
}

func TestStream_RecordingFlow(t *testing.T) {
	ts, _, rec := newTestServer(t)
	conn := dial(t, ts, "room-2")

	send(t, conn, ClientMessage{Type: ActionStart})
	readUntil(t, conn, inState(session.StateRunning))

	src := rec.last()
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 16)); err != nil {
		t.Fatalf("Write audio failed: %v", err)
	}
	waitFor(t, func() bool { return src.frameCount() == 2 })

	src.emit(stt.Event{Type: stt.EventTranscription, Text: "Let's begin"})
	msg := readUntil(t, conn, func(m ServerMessage) bool {
		return m.Type == MessageSnapshot && len(m.Snapshot.Lines) == 1
	})
	lineID := msg.Snapshot.Lines[0].ID

	send(t, conn, ClientMessage{Type: ActionHighlight, LineID: lineID})
	readUntil(t, conn, func(m ServerMessage) bool {
		return m.Type == MessageSnapshot && len(m.Snapshot.Lines) == 1 && m.Snapshot.Lines[0].IsHighlighted
	})

	send(t, conn, ClientMessage{Type: ActionNotes, Text: "Agenda"})
	readUntil(t, conn, func(m ServerMessage) bool {
		return m.Type == MessageSnapshot && m.Snapshot.Notes == "Agenda"
	})

	send(t, conn, ClientMessage{Type: ActionPause})
	readUntil(t, conn, inState(session.StatePaused))
	send(t, conn, ClientMessage{Type: ActionResume})
	readUntil(t, conn, inState(session.StateRunning))
	send(t, conn, ClientMessage{Type: ActionEnd})
	msg = readUntil(t, conn, inState(session.StateEnded))

	if msg.Snapshot.MicrophoneActive {
		t.Error("Expected microphone to be released after end")
	}
}

func TestStream_TicksWhileRunning(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conn := dial(t, ts, "room-3")

	send(t, conn, ClientMessage{Type: ActionStart})
	readUntil(t, conn, inState(session.StateRunning))

	// No further changes happen, so these come from the ticker
	for i := 0; i < 3; i++ {
		readUntil(t, conn, inState(session.StateRunning))
	}
}

func TestStream_RejectedActions(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conn := dial(t, ts, "room-4")

	send(t, conn, ClientMessage{Type: "rewind"})
	msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == MessageError })
	if msg.Action != "rewind" || !strings.Contains(msg.Error, "unknown action") {
		t.Errorf("Unexpected error message %+v", msg)
	}

	send(t, conn, ClientMessage{Type: ActionPause})
	msg = readUntil(t, conn, func(m ServerMessage) bool { return m.Type == MessageError })
	if msg.Action != ActionPause {
		t.Errorf("Expected pause to be rejected while idle, got %+v", msg)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == MessageError })
}

func TestStream_MicDeniedStaysIdle(t *testing.T) {
	ts, _, rec := newTestServer(t)
	conn := dial(t, ts, "room-5")

	send(t, conn, ClientMessage{Type: ActionMicDenied, Reason: "blocked by user"})
	msg := readUntil(t, conn, func(m ServerMessage) bool {
		return m.Type == MessageSnapshot && m.Snapshot.Error != ""
	})
	if msg.Snapshot.State != session.StateIdle {
		t.Errorf("Expected IDLE, got %s", msg.Snapshot.State)
	}
	if !strings.Contains(msg.Snapshot.Error, "blocked by user") {
		t.Errorf("Expected denial reason in error, got %q", msg.Snapshot.Error)
	}
	if rec.last() != nil {
		t.Error("Expected no transport to be opened")
	}

	send(t, conn, ClientMessage{Type: ActionStart})
	readUntil(t, conn, inState(session.StateRunning))
}

func TestStream_DictationFlow(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conn := dial(t, ts, "room-6")

	send(t, conn, ClientMessage{Type: ActionDictationStart})
	send(t, conn, ClientMessage{Type: ActionDictation, Text: "first point"})
	send(t, conn, ClientMessage{Type: ActionDictation, Text: "second point"})
	msg := readUntil(t, conn, func(m ServerMessage) bool {
		return m.Type == MessageSnapshot && m.Snapshot.Notes == "first point\nsecond point"
	})
	if !msg.Snapshot.Dictating {
		t.Error("Expected dictation to be active")
	}

	send(t, conn, ClientMessage{Type: ActionDictationStop})
	send(t, conn, ClientMessage{Type: ActionDictation, Text: "ignored"})
	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == MessageError && m.Action == ActionDictation })
}

func TestStream_CloseEndsSession(t *testing.T) {
	ts, manager, rec := newTestServer(t)
	conn := dial(t, ts, "room-7")

	send(t, conn, ClientMessage{Type: ActionStart})
	readUntil(t, conn, inState(session.StateRunning))
	conn.Close()

	sess, err := manager.Get("room-7")
	if err != nil {
		t.Fatalf("Expected session to remain retrievable, got %v", err)
	}
	waitFor(t, func() bool { return sess.State() == session.StateEnded })

	src := rec.last()
	src.mu.Lock()
	defer src.mu.Unlock()
	if !src.stopped {
		t.Error("Expected transport to be stopped when the socket closes")
	}
}

func TestREST_SessionLifecycle(t *testing.T) {
	ts, manager, _ := newTestServer(t)

	res, err := http.Post(ts.URL+"/api/sessions", "application/json", strings.NewReader(`{"id":"api-1"}`))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201, got %d", res.StatusCode)
	}

	res, _ = http.Post(ts.URL+"/api/sessions", "application/json", nil)
	var snap session.Snapshot
	json.NewDecoder(res.Body).Decode(&snap)
	res.Body.Close()
	if snap.ID == "" {
		t.Error("Expected generated id for empty body")
	}

	res, _ = http.Get(ts.URL + "/api/sessions/api-1")
	json.NewDecoder(res.Body).Decode(&snap)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || snap.State != session.StateIdle {
		t.Errorf("Expected idle session, got %d %s", res.StatusCode, snap.State)
	}

	res, _ = http.Get(ts.URL + "/api/sessions/missing")
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", res.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/api-1", nil)
	res, _ = http.DefaultClient.Do(req)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", res.StatusCode)
	}
	if _, err := manager.Get("api-1"); err == nil {
		t.Error("Expected session to be removed")
	}
}

func TestREST_HighlightAndMinutes(t *testing.T) {
	ts, manager, rec := newTestServer(t)

	sess := manager.Create("api-2")
	sess.Start(context.Background())
	rec.last().emit(stt.Event{Type: stt.EventTranscription, Text: "Decision made"})
	lineID := sess.Snapshot().Lines[0].ID

	res, _ := http.Post(ts.URL+"/api/sessions/api-2/minutes", "application/json", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 before end, got %d", res.StatusCode)
	}

	res, _ = http.Post(ts.URL+"/api/sessions/api-2/highlights/"+lineID, "application/json", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", res.StatusCode)
	}
	if !sess.Snapshot().Lines[0].IsHighlighted {
		t.Error("Expected line to be highlighted")
	}

	res, _ = http.Post(ts.URL+"/api/sessions/api-2/highlights/nope", "application/json", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown line, got %d", res.StatusCode)
	}

	sess.End()
	res, _ = http.Post(ts.URL+"/api/sessions/api-2/minutes", "application/json", nil)
	var result minutes.Result
	json.NewDecoder(res.Body).Decode(&result)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.StatusCode)
	}
	if result.Fallback || !strings.HasPrefix(result.Text, "## Executive Summary") {
		t.Errorf("Unexpected minutes %+v", result)
	}
}

func TestREST_MeetingLink(t *testing.T) {
	ts, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"subject": "Intro call", "start_time": "2026-03-04T10:30:00Z"})
	res, err := http.Post(ts.URL+"/api/meeting-links", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var link meetlink.Link
	json.NewDecoder(res.Body).Decode(&link)
	res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201, got %d", res.StatusCode)
	}
	if !strings.HasPrefix(link.URL, "leadq.meet/sch-") {
		t.Errorf("Expected scheduled link, got %s", link.URL)
	}

	res, _ = http.Post(ts.URL+"/api/meeting-links", "application/json", strings.NewReader(`{"start_time":"tomorrow"}`))
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad start_time, got %d", res.StatusCode)
	}
}
