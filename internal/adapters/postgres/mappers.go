package postgres

import (
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

func toSessionModel(r domain.SessionRecord) telegramSessionModel {
	return telegramSessionModel{
		SessionID:    r.SessionID,
		Phone:        r.Phone,
		IsAuthorized: r.IsAuthorized,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt.UTC(),
		LastUsed:     r.LastUsed.UTC(),
		ClosedAt:     r.ClosedAt,
	}
}

func toDomainLoginAttempt(row loginAttemptModel) domain.LoginAttempt {
	return domain.LoginAttempt{
		ID:        row.ID,
		SessionID: row.SessionID,
		Operation: row.Operation,
		Status:    domain.Status(row.Status),
		Message:   row.Message,
		AttemptAt: row.AttemptAt,
	}
}

func toOutboxRecord(row telegramOutboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		LastErrorAt:    row.LastErrorAt,
		ClaimToken:     row.ClaimToken,
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}
