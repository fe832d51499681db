package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/audiolibrelab/voxcollect/internal/audio"
	"github.com/audiolibrelab/voxcollect/internal/corpus"
)

const (
	userHeader     = "X-Username"
	maxUploadBytes = 32 << 20
)

// SentenceResponse is the get-sentence body. Count is a string for compatibility with existing clients.
type SentenceResponse struct {
	Sentence string `json:"sentence"`
	Count    string `json:"count"`
}

type uploadForm struct {
	User       string `validate:"required,max=128"`
	SampleRate int    `validate:"omitempty,min=8000,max=192000"`
	Accent     string `validate:"max=64"`
}

// requireUser reads the X-Username header, answering 401 when it is missing
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(userHeader))
	if user == "" {
		s.sendErrorResponse(w, http.StatusUnauthorized, "Username required in X-Username header", "path", r.URL.Path)
		return "", false
	}
	return user, true
}

// handleGetSentence returns the user's current sentence, or a new one with ?skip=true
func (s *Server) handleGetSentence(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	skip := false
	if raw := r.URL.Query().Get("skip"); raw != "" {
		var err error
		skip, err = strconv.ParseBool(raw)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid skip value: %s", raw), "user", user)
			return
		}
	}

	fetch := s.catalog.Prompt
	if skip {
		fetch = s.catalog.Skip
	}
	text, count, err := fetch(user)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get sentence: %v", err), "user", user, "skip", skip)
		return
	}
	s.metrics.RecordPrompt(skip)

	writeJSON(w, http.StatusOK, SentenceResponse{Sentence: text, Count: strconv.Itoa(count)})
}

// handleUploadAudio stores a recording for the user's current sentence
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse multipart form", "user", user, "error", err)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "No audio file uploaded", "user", user)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to read audio file", "user", user, "error", err)
		return
	}

	form := uploadForm{User: user, Accent: strings.TrimSpace(r.FormValue("accent"))}
	if raw := r.FormValue("sampleRate"); raw != "" {
		form.SampleRate, err = strconv.Atoi(raw)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid sampleRate: %s", raw), "user", user)
			return
		}
	}
	if err := s.validate.Struct(form); err != nil {
		s.metrics.RecordRejected("invalid_form")
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid upload: %v", err), "user", user)
		return
	}

	info, err := audio.Inspect(data)
	if err != nil {
		s.metrics.RecordRejected("invalid_audio")
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid audio: %v", err), "user", user, "bytes", len(data))
		return
	}

	if err := s.catalog.Save(user, data, form.SampleRate, form.Accent); err != nil {
		status := http.StatusInternalServerError
		reason := "storage"
		switch {
		case errors.Is(err, corpus.ErrNoCurrentUtterance):
			status, reason = http.StatusConflict, "no_current_utterance"
		case errors.Is(err, corpus.ErrInvalidAudio):
			status, reason = http.StatusBadRequest, "invalid_audio"
		}
		s.metrics.RecordRejected(reason)
		s.sendErrorResponse(w, status, fmt.Sprintf("Failed to save recording: %v", err), "user", user)
		return
	}
	s.metrics.RecordSaved(info.Duration.Seconds())

	writeJSON(w, http.StatusOK, map[string]string{"message": "Audio uploaded successfully"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Stats())
}
