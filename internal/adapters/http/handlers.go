package http

import (
	"context"
	"net/http"
	"time"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/application"
)

func (h *Handler) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Telegram Login API",
		"version": h.version,
		"docs":    "/swagger/",
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", c.name+" unavailable", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", c.name+" unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req application.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "login", err)
		return
	}
	report, err := h.service.Login(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "login", err)
		return
	}
	writeReport(w, report)
}

func (h *Handler) submitCode(w http.ResponseWriter, r *http.Request) {
	var req application.SubmitCodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "submit_code", err)
		return
	}
	report, err := h.service.SubmitCode(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "submit_code", err)
		return
	}
	writeReport(w, report)
}

func (h *Handler) submitPassword(w http.ResponseWriter, r *http.Request) {
	var req application.SubmitPasswordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "submit_password", err)
		return
	}
	report, err := h.service.SubmitPassword(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "submit_password", err)
		return
	}
	writeReport(w, report)
}
