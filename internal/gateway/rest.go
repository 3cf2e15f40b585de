package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/meetlink"
	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/session"
)

// createSessionRequest is the optional body of POST /api/sessions
type createSessionRequest struct {
	ID string `json:"id"`
}

// meetingLinkRequest is the body of POST /api/meeting-links.
// StartTime is RFC 3339; empty means an instant meeting.
type meetingLinkRequest struct {
	Subject   string `json:"subject"`
	StartTime string `json:"start_time"`
	Instant   bool   `json:"instant"`
}

// handleCreateSession handles POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, created := s.manager.GetOrCreate(req.ID)
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, sess.Snapshot())
}

// handleGetSession handles GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleDeleteSession handles DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Remove(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHighlight handles POST /api/sessions/{id}/highlights/{lineID}
func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	line, ok := sess.Toggle(r.PathValue("lineID"))
	if !ok {
		writeError(w, http.StatusNotFound, "line not found")
		return
	}
	writeJSON(w, http.StatusOK, line)
}

// handleMinutes handles POST /api/sessions/{id}/minutes
func (s *Server) handleMinutes(w http.ResponseWriter, r *http.Request) {
	if s.synth == nil {
		writeError(w, http.StatusServiceUnavailable, "minutes synthesis is not configured")
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	result, err := sess.Minutes(r.Context(), s.synth)
	if errors.Is(err, session.ErrNotEnded) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleMeetingLink handles POST /api/meeting-links
func (s *Server) handleMeetingLink(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		writeError(w, http.StatusServiceUnavailable, "meeting links are not configured")
		return
	}

	var body meetingLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := meetlink.Request{Subject: body.Subject, Instant: body.Instant}
	if body.StartTime != "" {
		start, err := time.Parse(time.RFC3339, body.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_time must be RFC 3339")
			return
		}
		req.StartTime = &start
	}

	link, err := s.links.Create(r.Context(), req)
	if err != nil {
		s.logger.Error().Err(err).Msg("Meeting link creation failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}
