package application

import (
	"time"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
)

type Config struct {
	// FailedSubmitThreshold is the number of failed code/password submissions per
	// phone before further submissions are refused.
	FailedSubmitThreshold int
	LockoutDuration       time.Duration
	// OperationTimeout bounds one protocol operation end to end.
	OperationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailedSubmitThreshold <= 0 {
		c.FailedSubmitThreshold = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 2 * time.Minute
	}
	return c
}

type LoginRequest struct {
	APIID                 string `json:"api_id"`
	APIHash               string `json:"api_hash"`
	Phone                 string `json:"phone"`
	DatabaseEncryptionKey string `json:"database_encryption_key"`
	SessionName           string `json:"session_name"`
}

type SubmitCodeRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

type SubmitPasswordRequest struct {
	SessionID string `json:"session_id"`
	Password  string `json:"password"`
}

type SessionListResponse struct {
	Sessions []domain.SessionInfo `json:"sessions"`
	Total    int                  `json:"total"`
}

type LoginHistoryQuery struct {
	Page  int
	Limit int
}

type LoginHistoryResponse struct {
	SessionID string                `json:"session_id"`
	Attempts  []domain.LoginAttempt `json:"attempts"`
	Page      int                   `json:"page"`
	Limit     int                   `json:"limit"`
}
