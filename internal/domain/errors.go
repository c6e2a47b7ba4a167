package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no live session has the requested id.
	// Adapters map it to 404/NOT_FOUND.
	ErrSessionNotFound = errors.New("session not found")
	// ErrClientNotInitialized signals a resumption call (code/password) on a session
	// whose login was never started, so no backend client exists yet.
	ErrClientNotInitialized = errors.New("client not initialized")
	// ErrSessionBusy is returned when another protocol operation is already running
	// on the same session. Callers retry after the in-flight call returns.
	ErrSessionBusy   = errors.New("session busy")
	ErrSessionClosed = errors.New("session closed")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRateLimited   = errors.New("rate limited")
	// ErrBackendFailure wraps any failure reported by the messaging backend.
	// It is folded into an error status report and never returned by public operations.
	ErrBackendFailure = errors.New("backend failure")
)
