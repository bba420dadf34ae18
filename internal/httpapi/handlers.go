package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loqalabs/recon/internal/apperr"
	"github.com/loqalabs/recon/internal/session"
)

const maxConfigBytes = 64 << 10

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Readiness(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || s.ready() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

// PrepareSession handles POST /prepare_session.
func (s *Server) PrepareSession(w http.ResponseWriter, r *http.Request) {
	var cfg session.Config
	dec := json.NewDecoder(io.LimitReader(r.Body, maxConfigBytes))
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, apperr.Validation("invalid session config: "+err.Error()))
		return
	}
	res, err := s.svc.Prepare(r.Context(), cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SessionStatus handles GET /session_status/{id}.
func (s *Server) SessionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetQuestion handles GET /get_question/{id}/{index}.
func (s *Server) GetQuestion(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, apperr.NotFound("question"))
		return
	}
	qv, err := s.svc.Question(r.Context(), chi.URLParam(r, "id"), index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch {
	case qv.Question != nil:
		writeJSON(w, http.StatusOK, qv.Question)
	case qv.EndOfInterview:
		writeJSON(w, http.StatusOK, map[string]bool{"end_of_interview": true})
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": qv.Pending})
	}
}

// SubmitAnswer handles POST /interview_session/{id}/submit_answer, a
// multipart form with question_index and an audio file.
func (s *Server) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > s.maxUpload {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("audio upload exceeds %d MB", s.maxUpload>>20),
				Code:  apperr.CodeValidation,
			})
			return
		}
		s.writeError(w, r, apperr.Validation("expected a multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	index, err := strconv.Atoi(strings.TrimSpace(r.FormValue("question_index")))
	if err != nil {
		s.writeError(w, r, apperr.Validation("question_index must be an integer"))
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		s.writeError(w, r, apperr.Validation("audio file is required"))
		return
	}
	defer file.Close()

	res, err := s.svc.SubmitAnswer(r.Context(), chi.URLParam(r, "id"), index, file, header.Filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelSession handles POST /cancel_session/{id}.
func (s *Server) CancelSession(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]session.Status{"status": status})
}

// Report handles GET /report/{id}. ?wait=false skips joining pending
// analyses.
func (s *Server) Report(w http.ResponseWriter, r *http.Request) {
	wait := true
	if v := r.URL.Query().Get("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, apperr.Validation("wait must be a boolean"))
			return
		}
		wait = b
	}
	rep, err := s.svc.Report(r.Context(), chi.URLParam(r, "id"), wait)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type eventView struct {
	Type          string `json:"type"`
	Status        string `json:"status,omitempty"`
	QuestionIndex *int   `json:"question_index,omitempty"`
	Detail        string `json:"detail,omitempty"`
	At            string `json:"at"`
}

// SessionEvents handles GET /session_events/{id}?limit=N from the journal.
// Journal entries outlive the in-memory session.
func (s *Server) SessionEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = min(n, 1000)
	}
	id := chi.URLParam(r, "id")
	events, err := s.journal.ListSessionEvents(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("list session events: %w", err))
		return
	}
	if len(events) == 0 {
		s.writeError(w, r, apperr.NotFound("session"))
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			Type:          e.Type,
			Status:        e.Status,
			QuestionIndex: e.QuestionIndex,
			Detail:        e.Detail,
			At:            e.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": out})
}
