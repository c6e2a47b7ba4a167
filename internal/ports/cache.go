package ports

import (
	"context"
	"time"
)

// LockoutState is the current lockout envelope for a phone number.
type LockoutState struct {
	FailedCount int
	LockedUntil *time.Time
}

// Locked reports whether the envelope still blocks submissions at now.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// LockoutStore counts failed code/password submissions per phone.
// It is cache-backed so the counter survives across service instances.
type LockoutStore interface {
	Get(ctx context.Context, key string) (LockoutState, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (LockoutState, error)
	Clear(ctx context.Context, key string) error
}
