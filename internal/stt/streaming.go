package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/resilience"
)

const writeTimeout = 5 * time.Second

// StreamingSource speaks to a transcription relay over a websocket.
// Audio goes out as binary PCM16 frames, JSON events come back.
type StreamingSource struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	reconnect *resilience.ReconnectConfig
	logger    zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler Handler
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc

	writeMu sync.Mutex
}

// NewStreamingSource creates a websocket source for url
func NewStreamingSource(url string, reconnect *resilience.ReconnectConfig, logger zerolog.Logger) *StreamingSource {
	return &StreamingSource{
		url:       url,
		header:    http.Header{},
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnect: reconnect,
		logger:    logger.With().Str("component", "stt_streaming").Logger(),
	}
}

// OnEvent registers the event handler
func (s *StreamingSource) OnEvent(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Start dials the relay and begins reading events
func (s *StreamingSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	conn, err := s.dial()
	if err != nil {
		s.cancel()
		return fmt.Errorf("connect transcription socket: %w", err)
	}

	s.logger.Info().Str("url", s.url).Msg("Transcription socket connected")
	go s.readLoop(conn)
	return nil
}

func (s *StreamingSource) dial() (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(s.ctx, s.url, s.header)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return nil, ErrNotConnected
	}
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

// readLoop delivers inbound events until the socket closes for good
func (s *StreamingSource) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.isStopped() {
				return
			}

			next, fatal := s.handleReadError(conn, err)
			if fatal != nil {
				s.emit(Event{Type: EventError, Text: fatal.Error(), Fatal: true})
				return
			}
			conn = next
			continue
		}

		event, err := ParseEvent(message)
		if err != nil {
			s.logger.Warn().Err(err).Int("bytes", len(message)).Msg("Dropping malformed transcription event")
			continue
		}
		s.emit(event)
	}
}

// handleReadError handles a read failure. A normal close from the relay ends the
// stream; anything else is retried with backoff before giving up.
func (s *StreamingSource) handleReadError(conn *websocket.Conn, readErr error) (*websocket.Conn, error) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()

	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		s.logger.Info().Int("code", closeErr.Code).Msg("Transcription socket closed by relay")
		return nil, fmt.Errorf("transcription connection closed")
	}

	s.logger.Warn().Err(readErr).Msg("Transcription socket lost, reconnecting")
	s.emit(Event{Type: EventError, Text: "Transcription connection lost. Reconnecting..."})

	var next *websocket.Conn
	err := resilience.Reconnect(s.ctx, "transcription-socket", func() error {
		c, err := s.dial()
		if err != nil {
			return err
		}
		next = c
		return nil
	}, s.reconnect)
	if err != nil {
		if s.isStopped() {
			return nil, err
		}
		s.logger.Error().Err(err).Msg("Transcription socket unavailable")
		return nil, fmt.Errorf("transcription connection closed: %w", err)
	}
	return next, nil
}

func (s *StreamingSource) emit(e Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(e)
	}
}

// SendAudio writes one binary frame
func (s *StreamingSource) SendAudio(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("send audio frame: %w", err)
	}
	return nil
}

// Stop closes the socket. Events still in flight are discarded by the caller.
func (s *StreamingSource) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conn := s.conn
	s.conn = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()

	s.logger.Info().Msg("Transcription socket closed")
	return conn.Close()
}

// Connected reports whether a socket is open
func (s *StreamingSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *StreamingSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
