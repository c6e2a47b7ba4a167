package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the externally visible outcome of a protocol operation.
type Status string

const (
	StatusAwaitingPhone    Status = "awaiting_phone"
	StatusAwaitingCode     Status = "awaiting_code"
	StatusAwaitingPassword Status = "awaiting_password"
	StatusAuthorized       Status = "authorized"
	StatusUnknown          Status = "unknown"
	StatusError            Status = "error"
)

// StatusReport is the structured answer of every protocol operation.
// State is attached when the status alone does not explain where the backend stands.
type StatusReport struct {
	SessionID string         `json:"session_id,omitempty"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	State     map[string]any `json:"state,omitempty"`
}

// Credentials identify the Telegram application and account of one session.
// They are immutable once the session exists.
type Credentials struct {
	APIID                 string
	APIHash               string
	Phone                 string
	DatabaseEncryptionKey string
}

// DefaultDatabaseEncryptionKey is used when a login request carries no key.
const DefaultDatabaseEncryptionKey = "changeme1234"

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Validate checks that all credential fields required by the backend are present.
func (c Credentials) Validate() error {
	switch {
	case strings.TrimSpace(c.APIID) == "":
		return fmt.Errorf("%w: api_id is required", ErrInvalidInput)
	case !isDigits(c.APIID):
		return fmt.Errorf("%w: api_id must be numeric", ErrInvalidInput)
	case strings.TrimSpace(c.APIHash) == "":
		return fmt.Errorf("%w: api_hash is required", ErrInvalidInput)
	case strings.TrimSpace(c.Phone) == "":
		return fmt.Errorf("%w: phone is required", ErrInvalidInput)
	case c.DatabaseEncryptionKey == "":
		return fmt.Errorf("%w: database_encryption_key is required", ErrInvalidInput)
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// ValidateSessionName restricts caller-supplied names to a filesystem-safe alphabet
// because the name becomes part of the session storage path.
func ValidateSessionName(name string) error {
	if !sessionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: session_name must match %s", ErrInvalidInput, sessionNamePattern.String())
	}
	return nil
}

// SessionInfo is the read-only summary of a live session.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Phone        string    `json:"phone"`
	IsAuthorized bool      `json:"is_authorized"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
}

// SessionRecord is the persisted history row of a session. Credentials are never stored.
type SessionRecord struct {
	SessionID    string
	Phone        string
	IsAuthorized bool
	Status       Status
	CreatedAt    time.Time
	LastUsed     time.Time
	ClosedAt     *time.Time
}

// LoginAttempt records one protocol operation outcome for audit.
type LoginAttempt struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Operation string    `json:"operation"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	AttemptAt time.Time `json:"attempt_at"`
}
