package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loqalabs/recon/internal/apperr"
)

type errorBody struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeProcessing:
		return http.StatusUnprocessableEntity
	case apperr.CodeTranscription, apperr.CodeGateway:
		return http.StatusBadGateway
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error", "code"}. Errors outside the apperr
// taxonomy are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.Code(err)
	status := statusFor(code)
	msg := err.Error()
	var appErr *apperr.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("request_id", GetRequestID(r)),
			slog.String("path", r.URL.Path),
			slogError(err))
		msg = "internal server error"
	} else if status >= http.StatusBadGateway {
		s.logger.Warn("upstream failure",
			slog.String("request_id", GetRequestID(r)),
			slog.String("path", r.URL.Path),
			slogError(err))
	}
	body := errorBody{Error: msg, Code: code}
	if code == apperr.CodeNotFound {
		body.Status = "not_found"
	}
	writeJSON(w, status, body)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
