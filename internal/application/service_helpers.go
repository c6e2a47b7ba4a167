package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

func lockoutKey(phone string) string {
	return "submit:" + phone
}

// checkLockout refuses work for a phone that exhausted its failed submissions.
// A lockout store outage does not block logins.
func (s *Service) checkLockout(ctx context.Context, phone string) error {
	if s.lockouts == nil || phone == "" {
		return nil
	}
	state, err := s.lockouts.Get(ctx, lockoutKey(phone))
	if err != nil {
		s.warn(ctx, "check_lockout", "", err)
		return nil
	}
	if state.Locked(s.nowFn()) {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *Service) recordLockoutFailure(ctx context.Context, phone string) {
	if s.lockouts == nil {
		return
	}
	if _, err := s.lockouts.RecordFailure(ctx, lockoutKey(phone), s.nowFn(), s.cfg.FailedSubmitThreshold, s.cfg.LockoutDuration); err != nil {
		s.warn(ctx, "record_lockout_failure", "", err)
	}
}

func (s *Service) clearLockout(ctx context.Context, phone string) {
	if s.lockouts == nil {
		return
	}
	if err := s.lockouts.Clear(ctx, lockoutKey(phone)); err != nil {
		s.warn(ctx, "clear_lockout", "", err)
	}
}

// recordAttempt stores the outcome for the history endpoint. Secrets never reach it:
// the report message carries no submitted value.
func (s *Service) recordAttempt(ctx context.Context, sessionID, operation string, report domain.StatusReport) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.Insert(ctx, domain.LoginAttempt{
		SessionID: sessionID,
		Operation: operation,
		Status:    report.Status,
		Message:   report.Message,
		AttemptAt: s.nowFn(),
	}); err != nil {
		s.warn(ctx, "record_login_attempt", sessionID, err)
	}
}

func (s *Service) saveHistory(ctx context.Context, session *Session) {
	if s.history == nil {
		return
	}
	info := session.Info()
	if err := s.history.Upsert(ctx, domain.SessionRecord{
		SessionID:    info.SessionID,
		Phone:        info.Phone,
		IsAuthorized: info.IsAuthorized,
		Status:       info.Status,
		CreatedAt:    info.CreatedAt,
		LastUsed:     info.LastUsed,
	}); err != nil {
		s.warn(ctx, "save_session_history", info.SessionID, err)
	}
}

// enqueueEvent writes a session lifecycle event to the outbox. The session id is the
// partition key so a consumer sees created, authorized and closed in order.
func (s *Service) enqueueEvent(ctx context.Context, eventType string, session *Session, closedAt *time.Time) {
	if s.outbox == nil {
		return
	}
	now := s.nowFn()
	body := map[string]any{
		"session_id":    session.ID(),
		"phone":         session.Phone(),
		"is_authorized": session.IsAuthorized(),
		"occurred_at":   now,
	}
	if closedAt != nil {
		body["closed_at"] = *closedAt
	}
	payload, err := json.Marshal(body)
	if err != nil {
		s.warn(ctx, "marshal_event", session.ID(), err)
		return
	}
	if err := s.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: session.ID(),
		Payload:      payload,
		OccurredAt:   now,
	}); err != nil {
		s.warn(ctx, "enqueue_"+eventType, session.ID(), err)
	}
}

func (s *Service) warn(ctx context.Context, operation, sessionID string, err error) {
	s.logger.WarnContext(ctx, "side effect failed",
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", "failure",
		"session_id", sessionID,
		"error", err,
	)
}
