package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/audiolibrelab/voxcollect/internal/session"
)

// SessionRequest carries the optional fields of session actions
type SessionRequest struct {
	User   string `json:"user"`
	Accent string `json:"accent"`
}

// SessionStatusResponse describes the server-side recording session
type SessionStatusResponse struct {
	session.Snapshot
	PreviewURL string `json:"preview_url,omitempty"`
}

// parseSessionRequest accepts either a JSON body or form values
func parseSessionRequest(r *http.Request) (SessionRequest, error) {
	var req SessionRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("failed to parse form: %w", err)
	}
	req.User = r.FormValue("user")
	req.Accent = r.FormValue("accent")
	return req, nil
}

// sessionResult answers a session action with the resulting snapshot
func (s *Server) sessionResult(w http.ResponseWriter, action string, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrCaptureUnavailable):
			status = http.StatusServiceUnavailable
		case errors.Is(err, session.ErrUploadFailed):
			status = http.StatusBadGateway
		}
		s.sendErrorResponse(w, status, err.Error(), "operation", action)
		return
	}

	snap := s.controller.Snapshot()
	writeJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("%s: %s", action, snap.State),
		Session: &snap,
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	resp := SessionStatusResponse{Snapshot: s.controller.Snapshot()}
	if resp.RecordingID != "" {
		resp.PreviewURL = "/api/session/preview/" + resp.RecordingID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	s.sessionResult(w, "start", s.controller.Start(r.Context()))
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.sessionResult(w, "stop", s.controller.Stop(r.Context()))
}

func (s *Server) handleSessionSubmit(w http.ResponseWriter, r *http.Request) {
	req, err := parseSessionRequest(r)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "submit")
		return
	}
	s.sessionResult(w, "submit", s.controller.Submit(r.Context(), session.Metadata{AccentTag: strings.TrimSpace(req.Accent)}))
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	s.sessionResult(w, "cancel", s.controller.Cancel())
}

func (s *Server) handleSessionSkip(w http.ResponseWriter, r *http.Request) {
	s.sessionResult(w, "skip", s.controller.Skip(r.Context()))
}

func (s *Server) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	req, err := parseSessionRequest(r)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "login")
		return
	}
	if strings.TrimSpace(req.User) == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "User is required", "operation", "login")
		return
	}
	s.sessionResult(w, "login", s.controller.Login(r.Context(), req.User))
}

func (s *Server) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	s.sessionResult(w, "logout", s.controller.Logout())
}

// handleSessionPreview streams the buffered recording as WAV
func (s *Server) handleSessionPreview(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.controller.Preview()
	if !ok || rec.ID != r.PathValue("id") {
		s.sendErrorResponse(w, http.StatusNotFound, "Recording not found", "id", r.PathValue("id"))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "recording.wav", rec.CreatedAt, bytes.NewReader(rec.Audio))
}
