package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/audio"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/resilience"
)

// BatchConfig configures a BatchSource
type BatchConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Language    string
	Diarize     bool
	Window      time.Duration
	PausePoll   time.Duration
	SampleRate  int
	SkipSilence bool
	Timeout     time.Duration
	Roles       []string
	VAD         *audio.VADConfig

	CircuitBreakerMaxFailures  int
	CircuitBreakerResetTimeout time.Duration
}

// UploadResult is the outcome of one window upload. Failed uploads carry Err
// and are never turned into transcript events.
type UploadResult struct {
	Seq     uint64
	Event   Event
	Err     error
	Latency time.Duration
}

// batchResponse is the speech-to-text response body
type batchResponse struct {
	Text  string      `json:"text"`
	Words []batchWord `json:"words"`
}

type batchWord struct {
	Text      string          `json:"text"`
	SpeakerID json.RawMessage `json:"speaker_id"`
	Type      string          `json:"type"`
}

// audioTag matches non-speech annotations such as "(laughs)" or "[music]"
var audioTag = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)

// BatchSource records fixed windows of audio and uploads each one for
// diarized transcription. Uploads run concurrently and are never awaited by
// the capture path, so results may arrive out of order.
type BatchSource struct {
	cfg     BatchConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	handler  Handler
	onResult func(UploadResult)
	buf      bytes.Buffer
	started  bool
	stopped  bool
	paused   bool
	seq      uint64
	lastSeq  uint64
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	uploads  sync.WaitGroup
}

// NewBatchSource creates a batch source. metrics may be nil.
func NewBatchSource(cfg BatchConfig, logger zerolog.Logger, metrics *observability.Metrics) *BatchSource {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Second
	}
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CircuitBreakerMaxFailures <= 0 {
		cfg.CircuitBreakerMaxFailures = 5
	}
	if cfg.CircuitBreakerResetTimeout <= 0 {
		cfg.CircuitBreakerResetTimeout = 30 * time.Second
	}

	return &BatchSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker("batch-transcription", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout),
		logger:  logger.With().Str("component", "stt_batch").Logger(),
		metrics: metrics,
	}
}

// OnEvent registers the event handler
func (b *BatchSource) OnEvent(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// OnResult registers a hook that sees every upload outcome, including failures
func (b *BatchSource) OnResult(fn func(UploadResult)) {
	b.mu.Lock()
	b.onResult = fn
	b.mu.Unlock()
}

// SpeakerRoles returns the role names assigned to diarized speakers by first sight
func (b *BatchSource) SpeakerRoles() []string {
	return append([]string(nil), b.cfg.Roles...)
}

// Start begins the window loop
func (b *BatchSource) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.loopDone = make(chan struct{})

	go b.windowLoop()

	b.logger.Info().
		Dur("window", b.cfg.Window).
		Str("model", b.cfg.Model).
		Msg("Batch transcription started")
	return nil
}

// windowLoop accumulates unpaused time and flushes a window each time it
// reaches the configured length. Paused time does not count.
func (b *BatchSource) windowLoop() {
	defer close(b.loopDone)

	ticker := time.NewTicker(b.cfg.PausePoll)
	defer ticker.Stop()

	var recorded time.Duration
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
		}

		if b.isPaused() {
			continue
		}

		recorded += b.cfg.PausePoll
		if recorded < b.cfg.Window {
			continue
		}
		recorded = 0
		b.flush()
	}
}

// flush swaps the window buffer and uploads the previous window in the background
func (b *BatchSource) flush() {
	b.mu.Lock()
	if b.stopped || b.buf.Len() == 0 {
		b.mu.Unlock()
		return
	}
	pcm := make([]byte, b.buf.Len())
	copy(pcm, b.buf.Bytes())
	b.buf.Reset()
	b.seq++
	seq := b.seq
	ctx := b.ctx
	b.mu.Unlock()

	if b.cfg.SkipSilence && !audio.NewVADDetector(b.cfg.VAD).ContainsSpeech(pcm) {
		b.logger.Debug().Uint64("seq", seq).Msg("Skipping silent window")
		return
	}

	b.logger.Debug().
		Uint64("seq", seq).
		Int("bytes", len(pcm)).
		Float64("seconds", audio.FrameDuration(len(pcm), b.cfg.SampleRate)).
		Msg("Uploading window")

	b.uploads.Add(1)
	go func() {
		defer b.uploads.Done()
		b.deliver(b.upload(ctx, seq, pcm))
	}()
}

func (b *BatchSource) upload(ctx context.Context, seq uint64, pcm []byte) UploadResult {
	start := time.Now()
	var resp batchResponse

	err := b.breaker.Call(func() error {
		var err error
		resp, err = b.post(ctx, pcm)
		return err
	})

	observability.UpdateCircuitBreakerState(b.breaker.Name(), int(b.breaker.GetState()))
	result := UploadResult{Seq: seq, Latency: time.Since(start)}
	if err != nil {
		observability.IncrementCircuitBreakerFailures(b.breaker.Name())
		result.Err = fmt.Errorf("upload window %d: %w", seq, err)
		return result
	}

	words := filterWords(resp.Words)
	result.Event = Event{
		Type:  EventBatch,
		Text:  strings.TrimSpace(audioTag.ReplaceAllString(resp.Text, "")),
		Words: words,
		Seq:   seq,
	}
	return result
}

func (b *BatchSource) post(ctx context.Context, pcm []byte) (batchResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "recording.wav")
	if err != nil {
		return batchResponse{}, err
	}
	if _, err := part.Write(audio.EncodeWAV(pcm, b.cfg.SampleRate, 1)); err != nil {
		return batchResponse{}, err
	}
	fields := map[string]string{
		"model_id":      b.cfg.Model,
		"diarize":       strconv.FormatBool(b.cfg.Diarize),
		"language_code": b.cfg.Language,
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return batchResponse{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return batchResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, body)
	if err != nil {
		return batchResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("xi-api-key", b.cfg.APIKey)

	res, err := b.client.Do(req)
	if err != nil {
		return batchResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return batchResponse{}, fmt.Errorf("transcription API returned status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out batchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return batchResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// filterWords drops spacing, audio events and bracketed annotations
func filterWords(in []batchWord) []Word {
	out := make([]Word, 0, len(in))
	for _, w := range in {
		if w.Type == "spacing" || w.Type == "audio_event" {
			continue
		}
		text := strings.TrimSpace(w.Text)
		if text == "" || isAudioTag(text) {
			continue
		}
		id, err := parseSpeakerID(w.SpeakerID)
		if err != nil {
			id = nil
		}
		out = append(out, Word{Text: text, SpeakerID: id})
	}
	return out
}

func isAudioTag(s string) bool {
	return (strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

// deliver applies results in arrival order. Failures are logged and counted only.
func (b *BatchSource) deliver(r UploadResult) {
	if b.metrics != nil {
		b.metrics.RecordUpload(r.Err == nil, r.Latency)
	}

	b.mu.Lock()
	stopped := b.stopped
	handler := b.handler
	onResult := b.onResult
	outOfOrder := r.Err == nil && r.Seq < b.lastSeq
	if r.Err == nil && r.Seq > b.lastSeq {
		b.lastSeq = r.Seq
	}
	b.mu.Unlock()

	if onResult != nil {
		onResult(r)
	}

	if r.Err != nil {
		b.logger.Error().Err(r.Err).Uint64("seq", r.Seq).Dur("latency", r.Latency).Msg("Batch upload failed")
		if b.metrics != nil {
			b.metrics.RecordError("upload_failed", "stt_batch")
		}
		return
	}
	if outOfOrder {
		b.logger.Warn().Uint64("seq", r.Seq).Msg("Batch result arrived out of order")
	}
	if stopped || handler == nil {
		return
	}

	b.logger.Debug().Uint64("seq", r.Seq).Int("words", len(r.Event.Words)).Msg("Batch transcription received")
	handler(r.Event)
}

// SendAudio buffers a frame into the current window. Frames are dropped while paused.
func (b *BatchSource) SendAudio(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started || b.stopped {
		return ErrNotConnected
	}
	if b.paused {
		return nil
	}
	b.buf.Write(frame)
	return nil
}

// Pause stops buffering and freezes the window clock
func (b *BatchSource) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

// Resume continues buffering
func (b *BatchSource) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
}

func (b *BatchSource) isPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// Stop ends the window loop and discards the partial window. In-flight
// uploads finish on their own; their results are not delivered.
func (b *BatchSource) Stop() error {
	b.mu.Lock()
	if b.stopped || !b.started {
		b.stopped = true
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.buf.Reset()
	b.cancel()
	done := b.loopDone
	windows := b.seq
	b.mu.Unlock()

	<-done
	state, requests, failures, _ := b.breaker.GetStats()
	b.logger.Info().
		Uint64("windows", windows).
		Str("breaker_state", state.String()).
		Int64("requests", requests).
		Int64("failures", failures).
		Msg("Batch transcription stopped")
	return nil
}

// Connected reports whether the window loop is running
func (b *BatchSource) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && !b.stopped
}

// Flush uploads the current window immediately
func (b *BatchSource) Flush() {
	b.flush()
}

// Wait blocks until every in-flight upload has finished
func (b *BatchSource) Wait() {
	b.uploads.Wait()
}
