package domain

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	minCodeLength     = 3
	maxCodeLength     = 16
	maxPasswordLength = 256
)

// ValidateCode checks the shape of a one-time login code before it reaches the backend.
// Telegram codes are short digit strings; separators pasted from the app are rejected here
// rather than silently stripped.
func ValidateCode(code string) error {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return fmt.Errorf("%w: code must be %d-%d characters", ErrInvalidInput, minCodeLength, maxCodeLength)
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return fmt.Errorf("%w: code must contain digits only", ErrInvalidInput)
		}
	}
	return nil
}

// ValidateTwoFactorPassword rejects empty or oversized cloud passwords.
func ValidateTwoFactorPassword(password string) error {
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be <= %d characters", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}
