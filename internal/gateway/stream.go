package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The browser client is served from a different origin in development
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// errSocketClosed ends the stream's errgroup when the client goes away
var errSocketClosed = errors.New("websocket closed")

// stream binds one browser socket to one session. Only writeLoop writes to conn.
type stream struct {
	conn    *websocket.Conn
	session *session.Session
	opts    Options
	logger  zerolog.Logger

	dirty chan struct{}
	errs  chan ServerMessage
}

// handleSessionWS upgrades the request and runs the socket until either
// side closes it. The session is ended on every exit path.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	sess, created := s.manager.GetOrCreate(r.PathValue("id"))
	st := &stream{
		conn:    conn,
		session: sess,
		opts:    s.opts,
		logger: observability.WithCorrelationID("").With().
			Str("session_id", sess.ID()).
			Logger(),
		dirty: make(chan struct{}, 1),
		errs:  make(chan ServerMessage, 16),
	}

	observability.ConnectionOpened()
	defer observability.ConnectionClosed()

	st.logger.Info().Bool("created", created).Msg("Browser connected")
	st.run(context.Background())
}

func (st *stream) run(ctx context.Context) {
	unsubscribe := st.session.Subscribe(st.markDirty)
	defer unsubscribe()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return st.readLoop(egCtx) })
	eg.Go(func() error { return st.writeLoop(egCtx) })
	eg.Go(func() error { return st.tickLoop(egCtx) })

	err := eg.Wait()
	if err != nil && !errors.Is(err, errSocketClosed) && !errors.Is(err, context.Canceled) {
		st.logger.Warn().Err(err).Msg("Browser stream ended with error")
	}

	if err := st.session.End(); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
		st.logger.Error().Err(err).Msg("Error ending session on disconnect")
	}
	st.logger.Info().Str("state", string(st.session.State())).Msg("Browser disconnected")
}

// markDirty schedules a snapshot push without blocking the session
func (st *stream) markDirty() {
	select {
	case st.dirty <- struct{}{}:
	default:
	}
}

func (st *stream) sendError(action string, err error) {
	select {
	case st.errs <- ServerMessage{Type: MessageError, Action: action, Error: err.Error()}:
	default:
		st.logger.Warn().Str("action", action).Msg("Error queue full, dropping message")
	}
}

// readLoop handles inbound frames: binary frames are PCM audio, text frames
// are JSON actions. It always returns a non-nil error so the group stops.
func (st *stream) readLoop(ctx context.Context) error {
	st.conn.SetReadLimit(st.opts.MaxMessageBytes)

	for {
		msgType, data, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return fmt.Errorf("%w: %v", errSocketClosed, err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := st.session.PushAudio(data); err != nil {
				st.logger.Debug().Err(err).Int("bytes", len(data)).Msg("Dropping client audio")
			}

		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				st.logger.Warn().Err(err).Msg("Failed to parse client message")
				st.sendError("", fmt.Errorf("invalid message: %w", err))
				continue
			}
			if err := st.handleAction(ctx, msg); err != nil {
				st.logger.Info().Err(err).Str("action", msg.Type).Msg("Action rejected")
				st.sendError(msg.Type, err)
			}
		}
	}
}

func (st *stream) handleAction(ctx context.Context, msg ClientMessage) error {
	sess := st.session

	switch msg.Type {
	case ActionStart:
		sess.AllowMicrophone()
		return sess.Start(ctx)

	case ActionMicDenied:
		// Starting with a denied microphone records the error and stays idle
		sess.DenyMicrophone(msg.Reason)
		return sess.Start(ctx)

	case ActionPause:
		return sess.Pause()

	case ActionResume:
		return sess.Resume()

	case ActionEnd:
		return sess.End()

	case ActionHighlight:
		sess.Toggle(msg.LineID)
		return nil

	case ActionNotes:
		sess.SetNotes(msg.Text)
		return nil

	case ActionDictationStart:
		return sess.StartDictation()

	case ActionDictationStop:
		sess.StopDictation()
		return nil

	case ActionDictation:
		return sess.Dictate(msg.Text)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Type)
	}
}

// writeLoop is the only writer on the socket. It closes the socket on exit,
// which also unblocks readLoop.
func (st *stream) writeLoop(ctx context.Context) error {
	defer st.conn.Close()

	if err := st.writeSnapshot(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = st.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return ctx.Err()

		case <-st.dirty:
			if err := st.writeSnapshot(); err != nil {
				return err
			}

		case msg := <-st.errs:
			if err := st.write(msg); err != nil {
				return err
			}
		}
	}
}

// tickLoop keeps the elapsed timer moving on the client while recording
func (st *stream) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(st.opts.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if st.session.State() == session.StateRunning {
				st.markDirty()
			}
		}
	}
}

func (st *stream) writeSnapshot() error {
	snap := st.session.Snapshot()
	return st.write(ServerMessage{Type: MessageSnapshot, Snapshot: &snap})
}

func (st *stream) write(msg ServerMessage) error {
	st.conn.SetWriteDeadline(time.Now().Add(st.opts.WriteTimeout))
	if err := st.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}
