package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// outboxRepository keeps session lifecycle events in telegram_outbox until the
// worker publishes them. A row is either pending, claimed by one worker until
// claim_until, published, or dead-lettered.
type outboxRepository struct {
	db *gorm.DB
}

func (r *outboxRepository) Enqueue(ctx context.Context, event ports.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(&telegramOutboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      string(event.Payload),
		CreatedAt:    event.OccurredAt.UTC(),
	}).Error
}

// pending selects rows that are neither settled nor under a live claim.
func pending(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("published_at IS NULL AND dead_lettered_at IS NULL").
			Where("claim_until IS NULL OR claim_until < ?", now)
	}
}

func (r *outboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}

	var rows []telegramOutboxModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Oldest first so a session's created event goes out before its closed event.
		candidates := tx.Model(&telegramOutboxModel{}).
			Select("outbox_id").
			Scopes(pending(time.Now().UTC())).
			Order("created_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

		claim := tx.Model(&telegramOutboxModel{}).
			Where("outbox_id IN (?)", candidates).
			Updates(map[string]any{"claim_token": claimToken, "claim_until": claimUntil})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return nil
		}
		return tx.Where("claim_token = ?", claimToken).Order("created_at ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]ports.OutboxRecord, len(rows))
	for i, row := range rows {
		out[i] = toOutboxRecord(row)
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.settle(ctx, outboxID, claimToken, map[string]any{"published_at": at})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.settle(ctx, outboxID, claimToken, failure(errMsg, at))
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	fields := failure(errMsg, at)
	fields["dead_lettered_at"] = at
	return r.settle(ctx, outboxID, claimToken, fields)
}

func failure(errMsg string, at time.Time) map[string]any {
	return map[string]any{
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_error":    errMsg,
		"last_error_at": at,
	}
}

// settle applies fields and releases the claim. It is a no-op when the claim
// has since passed to another worker.
func (r *outboxRepository) settle(ctx context.Context, outboxID uuid.UUID, claimToken string, fields map[string]any) error {
	fields["claim_token"] = nil
	fields["claim_until"] = nil
	return r.db.WithContext(ctx).
		Model(&telegramOutboxModel{}).
		Where("outbox_id = ? AND claim_token = ?", outboxID, claimToken).
		Updates(fields).Error
}
