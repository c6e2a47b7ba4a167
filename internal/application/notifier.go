package application

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
)

// stateSignal is a single-slot, overwrite-last notification channel.
// Only the most recent state is kept; intermediate states are coalesced.
type stateSignal struct {
	slot chan domain.AuthState
}

func newStateSignal() *stateSignal {
	return &stateSignal{slot: make(chan domain.AuthState, 1)}
}

// Publish stores state as the latest notification. It never blocks.
func (s *stateSignal) Publish(state domain.AuthState) {
	for {
		select {
		case s.slot <- state:
			return
		default:
		}
		select {
		case <-s.slot:
		default:
		}
	}
}

// Drain discards an undelivered notification.
func (s *stateSignal) Drain() {
	select {
	case <-s.slot:
	default:
	}
}

// Wait blocks until a notification arrives, the timeout elapses or ctx ends.
// A non-positive timeout only checks for an already pending notification.
func (s *stateSignal) Wait(ctx context.Context, timeout time.Duration) (domain.AuthState, bool) {
	if timeout <= 0 {
		select {
		case state := <-s.slot:
			return state, true
		default:
			return nil, false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case state := <-s.slot:
		return state, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
