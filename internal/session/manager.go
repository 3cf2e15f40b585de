package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/audio"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/config"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/events"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/stt"
)

// ManagerConfig holds settings shared by all sessions
type ManagerConfig struct {
	Session      Config
	FrameSamples int
	BufferSize   int

	// SessionTTL is how long an ended session stays available for minutes
	// before Reap drops it. Zero keeps ended sessions until removed.
	SessionTTL time.Duration

	// Now overrides the clock for sessions and reaping
	Now func() time.Time
}

// ManagerConfigFrom maps service configuration onto session settings.
// Speaker roles are not part of it: only a source that names its speakers
// replaces the numbered labels.
func ManagerConfigFrom(cfg *config.Config) ManagerConfig {
	return ManagerConfig{
		Session: Config{
			DefaultSpeaker: cfg.DefaultSpeaker,
			Placeholder:    cfg.PlaceholderSpeaker,
			DelegateName:   cfg.DelegateName,
			Mode:           cfg.TranscriptionMode,
		},
		FrameSamples: cfg.AudioFrameSamples,
		BufferSize:   cfg.AudioBufferSize,
		SessionTTL:   time.Duration(cfg.SessionTTL) * time.Second,
	}
}

// Manager tracks live sessions by id. Each session has its own capture,
// speaker registry and transcript.
type Manager struct {
	cfg     ManagerConfig
	factory stt.Factory
	sink    events.Sink
	logger  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. sink may be nil.
func NewManager(cfg ManagerConfig, factory stt.Factory, sink events.Sink) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		sink:     sink,
		logger:   observability.GetLogger().With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Create starts tracking a new idle session. An empty id gets a generated one.
// Creating an id that already exists returns the existing session.
func (m *Manager) Create(id string) *Session {
	s, _ := m.GetOrCreate(id)
	return s
}

// GetOrCreate returns the session for id, creating it when unknown.
// The bool reports whether a new session was created.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, false
	}

	capture := audio.NewSocketCapture(m.cfg.FrameSamples, m.cfg.BufferSize)
	opts := []Option{WithClock(m.cfg.Now)}
	if m.sink != nil {
		opts = append(opts, WithSink(m.sink))
	}
	s := New(id, m.cfg.Session, capture, m.factory, opts...)
	m.sessions[id] = s
	observability.SetTrackedSessions(len(m.sessions))

	m.logger.Info().Str("session_id", id).Int("sessions", len(m.sessions)).Msg("Session created")
	return s, true
}

// Get returns the session for id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove ends and forgets the session
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	observability.SetTrackedSessions(len(m.sessions))
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Close()

	m.logger.Info().Str("session_id", id).Msg("Session removed")
	return nil
}

// Count returns the number of tracked sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll ends every session, used on shutdown
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	observability.SetTrackedSessions(0)

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}

// Reap removes sessions that ended at least SessionTTL ago and returns how
// many were dropped. Live sessions are never reaped.
func (m *Manager) Reap() int {
	if m.cfg.SessionTTL <= 0 {
		return 0
	}
	cutoff := m.cfg.Now().Add(-m.cfg.SessionTTL)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if at, ended := s.EndedAt(); ended && !at.After(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	observability.SetTrackedSessions(len(m.sessions))
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
		m.logger.Info().Str("session_id", s.ID()).Msg("Expired session reaped")
	}
	return len(expired)
}

// RunReaper calls Reap every interval until ctx is cancelled
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	if m.cfg.SessionTTL <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.logger.Debug().Int("reaped", n).Int("sessions", m.Count()).Msg("Reaped ended sessions")
			}
		}
	}
}
