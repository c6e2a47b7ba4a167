package http

import (
	"encoding/json"
	"net/http"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// loginResponse is the body of every protocol endpoint.
type loginResponse struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	SessionID string              `json:"session_id,omitempty"`
	Status    domain.Status       `json:"status"`
	Data      domain.StatusReport `json:"data"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeReport answers 200 for every report; success is false only for error reports.
func writeReport(w http.ResponseWriter, report domain.StatusReport) {
	writeJSON(w, http.StatusOK, loginResponse{
		Success:   report.Status != domain.StatusError,
		Message:   report.Message,
		SessionID: report.SessionID,
		Status:    report.Status,
		Data:      report,
	})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": true,
		"message": message,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}
