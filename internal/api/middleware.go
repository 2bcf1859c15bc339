package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"surveyflow/internal/branching"
	"surveyflow/internal/schema"
	"surveyflow/internal/service"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, code int, errCode, message string, log *zap.Logger) {
	if code >= http.StatusInternalServerError {
		log.Error("API error", zap.String("code", errCode), zap.String("message", message))
	} else {
		log.Warn("API error", zap.String("code", errCode), zap.String("message", message))
	}

	resp := ErrorResponse{
		Error:   errCode,
		Message: message,
	}
	if errCode != "" {
		resp.Code = errCode
	}

	writeJSON(w, code, resp)
}

// writeServiceError maps service and store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, branching.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error(), log)
	case branching.IsConfigurationError(err):
		WriteError(w, http.StatusBadRequest, "configuration_error", err.Error(), log)
	case errors.Is(err, schema.ErrInvalidDocument):
		WriteError(w, http.StatusBadRequest, "invalid_document", err.Error(), log)
	case errors.Is(err, service.ErrTooManyRules):
		WriteError(w, http.StatusBadRequest, "too_many_rules", err.Error(), log)
	case errors.Is(err, branching.ErrParticipationComplete):
		WriteError(w, http.StatusConflict, "participation_complete", err.Error(), log)
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), log)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// RequestLogger logs HTTP requests and responses
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Upgrades need the raw writer for hijacking
			if r.Header.Get("Upgrade") == "websocket" {
				log.Info("WebSocket upgrade", zap.String("path", r.URL.Path), zap.String("remote_addr", r.RemoteAddr))
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
