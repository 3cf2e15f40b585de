package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/audio"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/events"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/minutes"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/speaker"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/stt"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/transcript"
)

// ErrDictationOff is returned by Dictate when dictation was not started
var ErrDictationOff = errors.New("dictation is not active")

const (
	outboxSize = 256

	disconnectedText = "Could not connect to transcription service."
)

// Config holds per-session settings
type Config struct {
	DefaultSpeaker string
	Placeholder    string
	DelegateName   string
	// Mode is the transcription mode, used as a metrics label
	Mode string
}

// Snapshot is a consistent view of a session for rendering
type Snapshot struct {
	ID               string               `json:"id"`
	State            State                `json:"state"`
	ElapsedSeconds   int                  `json:"elapsedSeconds"`
	Elapsed          string               `json:"elapsed"`
	Lines            []transcript.Line    `json:"lines"`
	Speakers         []speaker.Assignment `json:"speakers"`
	Notes            string               `json:"notes"`
	Error            string               `json:"error,omitempty"`
	Connected        bool                 `json:"connected"`
	Connecting       bool                 `json:"connecting"`
	MicrophoneActive bool                 `json:"microphoneActive"`
	Dictating        bool                 `json:"dictating"`
	Minutes          *minutes.Result      `json:"minutes,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
}

// pusher is implemented by captures fed from a remote client
type pusher interface {
	Push(data []byte) (int, error)
}

// permissioner is implemented by captures whose permission is decided remotely
type permissioner interface {
	Deny(reason string)
	Allow()
}

// Option configures a Session
type Option func(*Session)

// WithClock overrides the clock used by the timer and transcript
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithSink publishes line and state events to sink
func WithSink(sink events.Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithLogger overrides the session logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithTranscriptOptions passes options to the transcript assembler
func WithTranscriptOptions(opts ...transcript.Option) Option {
	return func(s *Session) { s.lineOpts = append(s.lineOpts, opts...) }
}

// Session owns one recording. All transport callbacks are checked against
// the current generation and state before they touch the transcript, so
// late events from a torn-down transport are dropped.
type Session struct {
	id       string
	cfg      Config
	capture  audio.Capture
	factory  stt.Factory
	sink     events.Sink
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	lineOpts []transcript.Option

	ctx    context.Context
	cancel context.CancelFunc
	outbox chan any
	done   chan struct{}

	mu         sync.Mutex
	state      State
	timer      *Timer
	registry   *speaker.Registry
	assembler  *transcript.Assembler
	source     stt.Source
	generation uint64
	starting   bool
	connected  bool
	lastError  string
	notes      string
	dictating  bool
	minutes    *minutes.Result
	createdAt  time.Time
	endedAt    time.Time
	closed     bool

	minutesMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]func()
	nextSub     int
}

// New creates an idle session. factory builds a fresh transport on each start.
func New(id string, cfg Config, capture audio.Capture, factory stt.Factory, opts ...Option) *Session {
	s := &Session{
		id:          id,
		cfg:         cfg,
		capture:     capture,
		factory:     factory,
		logger:      observability.SessionLogger(id),
		metrics:     observability.NewSessionMetrics(id),
		now:         time.Now,
		state:       StateIdle,
		outbox:      make(chan any, outboxSize),
		done:        make(chan struct{}),
		subscribers: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.DefaultSpeaker == "" {
		s.cfg.DefaultSpeaker = "Speaker"
	}

	s.timer = NewTimer(s.now)
	s.createdAt = s.now()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.publishLoop()
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndedAt reports when the session ended. ok is false until it has.
func (s *Session) EndedAt() (at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt, s.state == StateEnded
}

// Subscribe registers fn to be called after every visible change.
// fn must not block. The returned func unsubscribes.
func (s *Session) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Session) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Start acquires the microphone and opens a new transport. On failure the
// session stays IDLE with the error recorded and nothing left open. The
// transport is dialed without holding the session lock; an End that lands
// meanwhile wins and the new transport is discarded.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle || s.starting {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.starting = true
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	if err := s.capture.Open(ctx, func(frame []byte) { s.forwardFrame(gen, frame) }); err != nil {
		s.logger.Warn().Err(err).Msg("Microphone unavailable, staying idle")
		s.abortStart(fmt.Sprintf("Could not access microphone: %v", err), "microphone")
		return fmt.Errorf("open microphone: %w", err)
	}

	src, err := s.factory(s.logger, s.metrics)
	if err != nil {
		s.capture.Close()
		s.abortStart(disconnectedText, "transport_create")
		return fmt.Errorf("create transcription source: %w", err)
	}

	s.mu.Lock()
	if s.assembler == nil {
		s.initTranscript(src)
	}
	s.mu.Unlock()
	src.OnEvent(func(e stt.Event) { s.handleEvent(gen, e) })

	if err := src.Start(s.ctx); err != nil {
		s.capture.Close()
		src.Stop()
		s.logger.Error().Err(err).Msg("Transcription transport failed to start")
		s.abortStart(disconnectedText, "transport_start")
		return fmt.Errorf("start transcription source: %w", err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.starting = false
		s.capture.Close()
		s.mu.Unlock()
		src.Stop()
		s.logger.Info().Msg("Session ended while connecting, transport discarded")
		return fmt.Errorf("%w: ended while connecting", ErrInvalidTransition)
	}
	s.starting = false
	s.source = src
	s.connected = true
	s.lastError = ""
	s.timer.Start()
	s.setState(StateRunning)
	s.metrics.RecordSessionStart()
	s.mu.Unlock()

	s.notify()
	return nil
}

// abortStart clears the pending start and records why it failed
func (s *Session) abortStart(msg, kind string) {
	s.mu.Lock()
	s.starting = false
	s.lastError = msg
	s.metrics.RecordError(kind, "session")
	s.mu.Unlock()
	s.notify()
}

// initTranscript builds the registry and assembler. Speakers are numbered
// unless the source supplies canonical role names. Callers hold s.mu.
func (s *Session) initTranscript(src stt.Source) {
	var roles []string
	if rp, ok := src.(stt.RoleProvider); ok {
		roles = rp.SpeakerRoles()
	}
	s.registry = speaker.NewRegistry(s.cfg.DefaultSpeaker, roles...)

	var asm *transcript.Assembler
	opts := append([]transcript.Option{
		transcript.WithClock(s.now),
		transcript.WithPlaceholder(s.cfg.Placeholder),
		transcript.WithListener(func(c transcript.Change) { s.onLineChange(asm, c) }),
	}, s.lineOpts...)
	asm = transcript.NewAssembler(s.registry, opts...)
	s.assembler = asm
}

// onLineChange runs inside Apply; it must not take s.mu
func (s *Session) onLineChange(asm *transcript.Assembler, c transcript.Change) {
	if c.Created {
		s.metrics.RecordLines(s.cfg.Mode, 1)
	}
	open, ok := asm.OpenLine()
	s.enqueue(s.lineEvent(c.Line, c.Created, !(ok && open == c.Line.ID)))
}

func (s *Session) lineEvent(l transcript.Line, created, final bool) events.TranscriptLineEvent {
	return events.TranscriptLineEvent{
		SessionID:   s.id,
		LineID:      l.ID,
		Speaker:     l.Speaker,
		Text:        l.Text,
		Timestamp:   l.Timestamp,
		Highlighted: l.IsHighlighted,
		Created:     created,
		Final:       final,
	}
}

// forwardFrame sends one capture frame to the current transport. Frames are
// gated per callback so a paused or ended session sends nothing.
func (s *Session) forwardFrame(gen uint64, frame []byte) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateRunning || s.source == nil {
		s.mu.Unlock()
		return
	}
	src := s.source
	s.mu.Unlock()

	if err := src.SendAudio(frame); err != nil {
		s.logger.Debug().Err(err).Msg("Dropping audio frame")
		s.metrics.RecordError("send_audio", "session")
		return
	}
	s.metrics.RecordAudioBytes("out", int64(len(frame)))
}

// handleEvent applies one transport event
func (s *Session) handleEvent(gen uint64, e stt.Event) {
	s.mu.Lock()

	if gen != s.generation {
		s.mu.Unlock()
		s.metrics.RecordDropped("stale")
		return
	}
	if !s.state.Active() {
		reason := strings.ToLower(string(s.state))
		s.mu.Unlock()
		s.metrics.RecordDropped(reason)
		return
	}
	s.metrics.RecordEvent(string(e.Type))

	if e.Type == stt.EventError {
		s.lastError = e.Text
		if e.Fatal {
			s.connected = false
			s.capture.Close()
			s.logger.Error().Str("error", e.Text).Msg("Transcription transport lost, microphone released")
		} else {
			s.logger.Warn().Str("error", e.Text).Msg("Transcription transport error")
		}
		s.mu.Unlock()
		s.notify()
		return
	}

	if s.state == StatePaused {
		s.mu.Unlock()
		s.metrics.RecordDropped("paused")
		return
	}

	changed := s.assembler.Apply(e)
	if changed && s.connected {
		s.lastError = ""
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// Pause freezes the timer and stops forwarding audio
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrInvalidTransition
	}

	s.timer.Pause()
	if p, ok := s.source.(stt.Pauser); ok {
		p.Pause()
	}
	s.setState(StatePaused)
	s.mu.Unlock()

	s.notify()
	return nil
}

// Resume continues a paused recording
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return ErrInvalidTransition
	}

	if p, ok := s.source.(stt.Pauser); ok {
		p.Resume()
	}
	s.timer.Start()
	s.setState(StateRunning)
	s.mu.Unlock()

	s.notify()
	return nil
}

// End tears down the microphone, transport and dictation from any state.
// From IDLE or ENDED the teardown still happens and ErrInvalidTransition
// is returned.
func (s *Session) End() error {
	s.mu.Lock()
	from := s.state

	s.generation++
	src := s.source
	s.source = nil
	s.capture.Close()
	s.connected = false
	s.dictating = false

	if !from.CanTransition(StateEnded) {
		s.mu.Unlock()
		if src != nil {
			src.Stop()
		}
		return ErrInvalidTransition
	}

	s.timer.Stop()
	s.endedAt = s.now()
	s.setState(StateEnded)
	s.metrics.RecordSessionEnd(s.timer.Duration())
	s.mu.Unlock()

	// Stop may call back into handleEvent, so it runs unlocked
	if src != nil {
		if err := src.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Error stopping transcription transport")
		}
	}

	s.notify()
	return nil
}

// setState records a transition. Callers hold s.mu.
func (s *Session) setState(to State) {
	from := s.state
	s.state = to
	s.metrics.RecordTransition(string(to))

	lines := 0
	if s.assembler != nil {
		lines = s.assembler.Len()
	}
	s.enqueue(events.SessionStateEvent{
		SessionID:      s.id,
		From:           string(from),
		To:             string(to),
		ElapsedSeconds: s.timer.Elapsed(),
		Lines:          lines,
		Error:          s.lastError,
		Timestamp:      s.now(),
	})

	s.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Int("elapsed_seconds", s.timer.Elapsed()).
		Msg("Session state changed")
}

// Toggle flips the highlight on a line. Unknown ids are a no-op.
func (s *Session) Toggle(lineID string) (transcript.Line, bool) {
	s.mu.Lock()
	if s.assembler == nil {
		s.mu.Unlock()
		return transcript.Line{}, false
	}
	line, ok := s.assembler.Toggle(lineID)
	s.mu.Unlock()

	if !ok {
		return line, false
	}
	s.enqueue(s.lineEvent(line, false, true))
	s.notify()
	return line, true
}

// SetNotes replaces the manual notes
func (s *Session) SetNotes(text string) {
	s.mu.Lock()
	s.notes = text
	s.mu.Unlock()
	s.notify()
}

// AppendNotes adds text to the notes on a new line
func (s *Session) AppendNotes(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	s.appendNotesLocked(text)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) appendNotesLocked(text string) {
	if s.notes != "" {
		s.notes += "\n"
	}
	s.notes += text
}

// StartDictation routes dictated text into the notes until stopped or ended
func (s *Session) StartDictation() error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.dictating = true
	s.mu.Unlock()

	s.notify()
	return nil
}

// StopDictation stops routing dictated text
func (s *Session) StopDictation() {
	s.mu.Lock()
	s.dictating = false
	s.mu.Unlock()
	s.notify()
}

// Dictate appends finalized dictation text to the notes
func (s *Session) Dictate(text string) error {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if !s.dictating {
		s.mu.Unlock()
		return ErrDictationOff
	}
	if text == "" {
		s.mu.Unlock()
		return nil
	}
	s.appendNotesLocked(text)
	s.mu.Unlock()

	s.notify()
	return nil
}

// PushAudio feeds client audio into the capture
func (s *Session) PushAudio(data []byte) error {
	p, ok := s.capture.(pusher)
	if !ok {
		return fmt.Errorf("capture does not accept pushed audio")
	}
	s.metrics.RecordAudioBytes("in", int64(len(data)))
	_, err := p.Push(data)
	return err
}

// DenyMicrophone records a client-side permission refusal
func (s *Session) DenyMicrophone(reason string) {
	if p, ok := s.capture.(permissioner); ok {
		p.Deny(reason)
	}
}

// AllowMicrophone clears a previous refusal
func (s *Session) AllowMicrophone() {
	if p, ok := s.capture.(permissioner); ok {
		p.Allow()
	}
}

// Minutes synthesizes minutes for an ended session. A successful result is
// cached and returned on later calls; fallbacks are not cached so the
// request can be retried.
func (s *Session) Minutes(ctx context.Context, synth minutes.Synthesizer) (minutes.Result, error) {
	s.minutesMu.Lock()
	defer s.minutesMu.Unlock()

	s.mu.Lock()
	if s.state != StateEnded {
		s.mu.Unlock()
		return minutes.Result{}, ErrNotEnded
	}
	if s.minutes != nil {
		cached := *s.minutes
		s.mu.Unlock()
		return cached, nil
	}
	req := s.minutesRequestLocked()
	s.mu.Unlock()

	result := minutes.Generate(ctx, synth, req, s.logger, s.metrics)

	if !result.Fallback {
		s.mu.Lock()
		s.minutes = &result
		s.mu.Unlock()
		s.notify()
	}
	return result, nil
}

func (s *Session) minutesRequestLocked() minutes.Request {
	req := minutes.Request{
		Notes:        s.notes,
		DelegateName: s.cfg.DelegateName,
	}
	if s.assembler == nil {
		return req
	}
	for _, l := range s.assembler.Lines() {
		req.Transcript = append(req.Transcript, l.String())
		if l.IsHighlighted {
			req.Highlights = append(req.Highlights, l.Quote())
		}
	}
	return req
}

// Snapshot returns the current view of the session
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.timer.Elapsed()
	snap := Snapshot{
		ID:               s.id,
		State:            s.state,
		ElapsedSeconds:   elapsed,
		Elapsed:          FormatElapsed(elapsed),
		Lines:            []transcript.Line{},
		Speakers:         []speaker.Assignment{},
		Notes:            s.notes,
		Error:            s.lastError,
		Connected:        s.connected,
		Connecting:       s.starting,
		MicrophoneActive: s.capture.ActiveTracks() > 0,
		Dictating:        s.dictating,
		CreatedAt:        s.createdAt,
	}
	if s.assembler != nil {
		snap.Lines = s.assembler.Lines()
		snap.Speakers = s.registry.Known()
	}
	if s.minutes != nil {
		m := *s.minutes
		snap.Minutes = &m
	}
	return snap
}

// Close ends the session if needed and stops event publishing
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.End(); err != nil && !errors.Is(err, ErrInvalidTransition) {
		s.logger.Warn().Err(err).Msg("Error ending session")
	}
	s.cancel()
	<-s.done
}

// enqueue hands an event to the publish loop without blocking
func (s *Session) enqueue(event any) {
	if s.sink == nil {
		return
	}
	select {
	case s.outbox <- event:
	default:
		s.metrics.RecordDropped("outbox_full")
	}
}

// publishLoop writes queued events in order until the session closes
func (s *Session) publishLoop() {
	defer close(s.done)

	for {
		select {
		case event := <-s.outbox:
			s.publish(event)
		case <-s.ctx.Done():
			for {
				select {
				case event := <-s.outbox:
					s.publish(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) publish(event any) {
	if s.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch e := event.(type) {
	case events.TranscriptLineEvent:
		err = s.sink.PublishLine(ctx, e)
	case events.SessionStateEvent:
		err = s.sink.PublishSession(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish session event")
	}
}
