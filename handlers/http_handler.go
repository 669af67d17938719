package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quickdrop-io/quickdrop/apperrors"
	"github.com/quickdrop-io/quickdrop/health"
	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/queues"
	"github.com/quickdrop-io/quickdrop/services"
)

type HttpHandler struct {
	sessionService services.SessionService
	fileService    services.FileService
	uploadService  services.UploadService
	subscriber     queues.SubscriptionOpener

	checks    []health.ReadinessCheck
	keepAlive time.Duration

	logger logging.Logger
}

func NewHttpHandler(
	sessionService services.SessionService,
	fileService services.FileService,
	uploadService services.UploadService,
	subscriber queues.SubscriptionOpener,
	checks []health.ReadinessCheck,
	keepAlive time.Duration,
	l logging.Logger,
) *HttpHandler {
	return &HttpHandler{
		sessionService: sessionService,
		fileService:    fileService,
		uploadService:  uploadService,
		subscriber:     subscriber,
		checks:         checks,
		keepAlive:      keepAlive,
		logger:         l,
	}
}

func (h *HttpHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Post("/upload-url", h.handleUploadUrl)
	r.Get("/sessions/{id}/files", h.handleListFiles)
	r.Get("/sessions/{id}/subscribe", h.handleSubscribe)
	r.Get("/download-url", h.handleDownloadUrl)

	r.Get("/health/live", h.handleLive)
	r.Get("/health/ready", h.handleReady)
	r.Handle("/metrics", promhttp.Handler())
}

func (h *HttpHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionService.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": session.SessionId,
		"expiresAt": session.ExpiresAt,
	})
}

func (h *HttpHandler) handleUploadUrl(w http.ResponseWriter, r *http.Request) {
	var req services.UploadUrlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.NewValidationError("body", "malformed json"))
		return
	}

	resp, err := h.uploadService.IssueUploadUrl(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HttpHandler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := h.sessionService.ValidateSession(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.fileService.GetFiles(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HttpHandler) handleDownloadUrl(w http.ResponseWriter, r *http.Request) {
	storagePath := r.URL.Query().Get("storagePath")

	resp, err := h.uploadService.IssueDownloadUrl(r.Context(), storagePath)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HttpHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HttpHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := c.IsReady(ctx)
		cancel()

		if err != nil {
			h.logger.Warn("readiness check failed", "check", c.Name(), "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"check":  c.Name(),
			})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *HttpHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *HttpHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsValidation(err):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case apperrors.IsNotFound(err):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("request failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
