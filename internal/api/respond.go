package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
)

type ErrorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:         http.StatusBadRequest,
	apperr.KindUnauthenticated:    http.StatusUnauthorized,
	apperr.KindInvalidCredentials: http.StatusUnauthorized,
	apperr.KindConflict:           http.StatusConflict,
	apperr.KindInvalidAmount:      http.StatusUnprocessableEntity,
	apperr.KindInvalidReceiver:    http.StatusUnprocessableEntity,
	apperr.KindNotFound:           http.StatusNotFound,
	apperr.KindUnavailable:        http.StatusServiceUnavailable,
	apperr.KindInternal:           http.StatusInternalServerError,
}

func (s *APIServer) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", slog.Any("error", err))
	}
}

// respondError writes err using its kind. Internal errors are logged in full
// and reach the client only as a generic message.
func (s *APIServer) respondError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{Kind: apperr.KindInternal, Message: "internal error"}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body.Kind = appErr.Kind
		body.Code = appErr.Code
		if appErr.Kind != apperr.KindInternal {
			body.Message = appErr.Message
		}
	}

	status, ok := statusByKind[body.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	switch {
	case status >= http.StatusInternalServerError:
		s.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	default:
		s.logger.Debug("Request rejected",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(body.Kind)),
		)
	}

	s.respondJSON(w, status, ErrorResponse{Error: body})
}

// decode reads a JSON body into dst and answers 400 itself when that fails.
func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, r, apperr.Validation("invalid request body"))
		return false
	}
	return true
}
