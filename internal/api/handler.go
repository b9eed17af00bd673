// Package api exposes dialog turns over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/common/observability"
	"crm-dialogs/internal/dialog"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the conversation endpoints.
type Handler struct {
	runtime       *dialog.Runtime
	defaultDialog string
	obs           *observability.Observability
	logger        logger.Logger
	checks        map[string]HealthCheck
}

// NewHandler creates a Handler. checks are run by GET /healthz.
func NewHandler(rt *dialog.Runtime, defaultDialog string, obs *observability.Observability, log logger.Logger, checks map[string]HealthCheck) *Handler {
	return &Handler{
		runtime:       rt,
		defaultDialog: defaultDialog,
		obs:           obs,
		logger:        log.With(map[string]interface{}{"component": "api"}),
		checks:        checks,
	}
}

// NewRouter builds the chi router with the handler's routes mounted.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.Health)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/conversations/{conversationId}", func(r chi.Router) {
		r.Post("/begin", h.Begin)
		r.Post("/messages", h.Message)
	})
}

// Health runs every dependency check and reports 503 if any fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	JSON(w, status, map[string]interface{}{
		"status": state,
		"checks": results,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.Debug("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  chiMiddleware.GetReqID(r.Context()),
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	JSON(w, status, map[string]string{"error": message, "code": string(code)})
}

// statusFor maps a turn error to an HTTP status.
func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeInputValidation, errors.ErrCodeInputParsingFailed, errors.ErrCodeInvalidTurnEvent:
		return http.StatusBadRequest
	case errors.ErrCodeUnknownDialog, errors.ErrCodeNoActiveDialog:
		return http.StatusNotFound
	case errors.ErrCodeConversationBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	stdErr := errors.Wrap(err)

	fields := map[string]interface{}{
		"path":      r.URL.Path,
		"errorCode": string(stdErr.Code),
		"error":     err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Dialog turn failed", fields)
		Error(w, status, stdErr.Code, stdErr.Message)
		return
	}
	h.logger.Warn("Dialog turn rejected", fields)
	message := stdErr.Message
	if stdErr.Details != "" {
		message += ": " + stdErr.Details
	}
	Error(w, status, stdErr.Code, message)
}
