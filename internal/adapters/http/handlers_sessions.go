package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/application"
)

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ListSessions(r.Context()))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.GetSession(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_session", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := h.service.CloseSession(r.Context(), sessionID); err != nil {
		writeMappedError(r.Context(), w, "close_session", err)
		return
	}
	writeMessage(w, http.StatusOK, "Session "+sessionID+" closed successfully")
}

func (h *Handler) closeAllSessions(w http.ResponseWriter, r *http.Request) {
	closed := h.service.CloseAllSessions(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "All sessions closed successfully",
		"closed":  closed,
	})
}

func (h *Handler) loginHistory(w http.ResponseWriter, r *http.Request) {
	query := application.LoginHistoryQuery{
		Page:  parseIntDefault(r.URL.Query().Get("page"), 1),
		Limit: parseIntDefault(r.URL.Query().Get("limit"), 20),
	}
	res, err := h.service.LoginHistory(r.Context(), chi.URLParam(r, "session_id"), query)
	if err != nil {
		writeMappedError(r.Context(), w, "login_history", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
