package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/resilience"
)

// DeepgramConfig configures a DeepgramSource
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int

	CircuitBreakerMaxFailures  int
	CircuitBreakerResetTimeout time.Duration
}

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler // Embed default handler for methods we don't override
	handler                                func(*msginterfaces.MessageResponse)
	utteranceEnd                           func()
	errorHandler                           func(*msginterfaces.ErrorResponse) error
}

// Message forwards transcription results
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// UtteranceEnd marks the end of a spoken segment
func (m *messageCallbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	m.utteranceEnd()
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramSource streams audio to Deepgram's live API with diarization
// enabled. Finalized words become word events tagged with Deepgram's
// integer speaker index; utterance ends become segment boundaries.
type DeepgramSource struct {
	cfg            DeepgramConfig
	logger         zerolog.Logger
	circuitBreaker *resilience.CircuitBreaker

	mu       sync.RWMutex
	client   *listenClient.WSCallback
	handler  Handler
	isActive bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewDeepgramSource creates a Deepgram streaming source
func NewDeepgramSource(cfg DeepgramConfig, logger zerolog.Logger) *DeepgramSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.CircuitBreakerMaxFailures <= 0 {
		cfg.CircuitBreakerMaxFailures = 5
	}
	if cfg.CircuitBreakerResetTimeout <= 0 {
		cfg.CircuitBreakerResetTimeout = 30 * time.Second
	}

	return &DeepgramSource{
		cfg:            cfg,
		logger:         logger.With().Str("component", "stt_deepgram").Logger(),
		circuitBreaker: resilience.NewCircuitBreaker("deepgram", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout),
	}
}

// OnEvent registers the event handler
func (d *DeepgramSource) OnEvent(h Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Start opens the Deepgram live session
func (d *DeepgramSource) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive || d.ctx != nil {
		return ErrAlreadyStarted
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000", // End utterance after 1 second of silence
		VadEvents:      true,
		Diarize:        true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleDeepgramMessage,
		utteranceEnd: func() {
			d.emit(Event{Type: EventSegmentComplete})
		},
		errorHandler: d.handleDeepgramError,
	}

	client, err := listenClient.NewWSUsingCallback(d.ctx, d.cfg.APIKey, clientOptions(), tOptions, callback)
	if err != nil {
		d.recordFailure()
		d.cancel()
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		d.recordFailure()
		d.cancel()
		return fmt.Errorf("failed to connect to Deepgram")
	}

	d.client = client
	d.isActive = true
	d.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState(d.circuitBreaker.Name(), int(d.circuitBreaker.GetState()))

	d.logger.Info().
		Str("model", d.cfg.Model).
		Str("language", d.cfg.Language).
		Msg("Deepgram streaming client started")
	return nil
}

// clientOptions keeps the stream alive while a paused session sends no audio
func clientOptions() *interfaces.ClientOptions {
	return &interfaces.ClientOptions{EnableKeepAlive: true}
}

func (d *DeepgramSource) recordFailure() {
	d.circuitBreaker.RecordResult(false)
	observability.UpdateCircuitBreakerState(d.circuitBreaker.Name(), int(d.circuitBreaker.GetState()))
	observability.IncrementCircuitBreakerFailures(d.circuitBreaker.Name())
}

// handleDeepgramMessage turns finalized results into word events
func (d *DeepgramSource) handleDeepgramMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			return
		}
		for _, e := range wordEvents(msg.Channel.Alternatives[0].Words) {
			d.emit(e)
		}

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Ignoring Deepgram message")
	}
}

// wordEvents converts Deepgram words, preferring the punctuated form
func wordEvents(words []msginterfaces.Word) []Event {
	final := true
	out := make([]Event, 0, len(words))
	for _, w := range words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, Event{
			Type:      EventWord,
			Text:      text,
			SpeakerID: SpeakerFromInt(w.Speaker),
			IsFinal:   &final,
		})
	}
	return out
}

// handleDeepgramError reports the failure and reconnects in the background
func (d *DeepgramSource) handleDeepgramError(errorResponse *msginterfaces.ErrorResponse) error {
	d.logger.Error().Interface("error", errorResponse).Msg("Deepgram error")
	d.recordFailure()

	select {
	case <-d.ctx.Done():
		return nil
	default:
	}

	d.mu.Lock()
	d.isActive = false
	d.mu.Unlock()

	d.emit(Event{Type: EventError, Text: "Transcription connection lost. Reconnecting..."})
	go d.attemptReconnect()
	return nil
}

// attemptReconnect re-dials Deepgram with backoff. Exhaustion is fatal.
func (d *DeepgramSource) attemptReconnect() {
	err := resilience.Reconnect(d.ctx, "deepgram", func() error {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return nil
		}
		client := d.client
		d.mu.Unlock()

		if client == nil || !client.Connect() {
			return fmt.Errorf("deepgram connect failed")
		}

		d.mu.Lock()
		d.isActive = true
		d.mu.Unlock()
		return nil
	}, resilience.DefaultReconnectConfig())

	if err != nil && d.ctx.Err() == nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram client")
		d.emit(Event{Type: EventError, Text: fmt.Sprintf("transcription connection closed: %v", err), Fatal: true})
	}
}

func (d *DeepgramSource) emit(e Event) {
	d.mu.RLock()
	h := d.handler
	stopped := d.stopped
	d.mu.RUnlock()

	if h != nil && !stopped {
		h(e)
	}
}

// SendAudio sends a PCM16 frame to Deepgram
func (d *DeepgramSource) SendAudio(frame []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return ErrNotConnected
		}

		if _, err := client.Write(frame); err != nil {
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState(d.circuitBreaker.Name(), int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(d.circuitBreaker.Name())
	}
	return err
}

// Stop finishes the Deepgram session. Safe to call more than once.
func (d *DeepgramSource) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.isActive = false
	client := d.client
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	// Finish may call back into the handlers, so it runs unlocked
	if client != nil {
		client.Finish()
	}

	d.logger.Info().Msg("Deepgram streaming client stopped")
	return nil
}

// Connected reports whether the Deepgram session is live
func (d *DeepgramSource) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
