package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/meetlink"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/minutes"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/session"
)

// Options tunes the websocket side of the gateway
type Options struct {
	// SnapshotInterval is how often a running session is pushed without changes
	SnapshotInterval time.Duration
	// WriteTimeout bounds each websocket write
	WriteTimeout time.Duration
	// MaxMessageBytes limits inbound websocket frames
	MaxMessageBytes int64
}

// DefaultOptions pushes the timer once per second
func DefaultOptions() Options {
	return Options{
		SnapshotInterval: time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageBytes:  1 << 20,
	}
}

// Server serves the browser websocket and the REST API
type Server struct {
	manager *session.Manager
	synth   minutes.Synthesizer
	links   meetlink.Generator
	opts    Options
	logger  zerolog.Logger
}

// NewServer creates a gateway. synth and links may be nil, in which case
// their endpoints answer 503.
func NewServer(manager *session.Manager, synth minutes.Synthesizer, links meetlink.Generator, opts Options) *Server {
	defaults := DefaultOptions()
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = defaults.SnapshotInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaults.MaxMessageBytes
	}

	return &Server{
		manager: manager,
		synth:   synth,
		links:   links,
		opts:    opts,
		logger:  observability.GetLogger().With().Str("component", "gateway").Logger(),
	}
}

// Register mounts the gateway routes on mux:
//
//	GET    /ws/sessions/{id}
//	POST   /api/sessions
//	GET    /api/sessions/{id}
//	DELETE /api/sessions/{id}
//	POST   /api/sessions/{id}/highlights/{lineID}
//	POST   /api/sessions/{id}/minutes
//	POST   /api/meeting-links
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/sessions/{id}", s.handleSessionWS)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/highlights/{lineID}", s.handleHighlight)
	mux.HandleFunc("POST /api/sessions/{id}/minutes", s.handleMinutes)
	mux.HandleFunc("POST /api/meeting-links", s.handleMeetingLink)
}

// Handler returns a mux with only the gateway routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
