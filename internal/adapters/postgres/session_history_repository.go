package postgres

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sessionHistoryRepository struct {
	db *gorm.DB
}

// Upsert writes the current summary. A reused session id that was closed earlier is
// reopened.
func (r *sessionHistoryRepository) Upsert(ctx context.Context, record domain.SessionRecord) error {
	row := toSessionModel(record)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"phone":         row.Phone,
				"is_authorized": row.IsAuthorized,
				"status":        row.Status,
				"last_used":     row.LastUsed,
				"closed_at":     nil,
			}),
		}).
		Create(&row).Error
}

func (r *sessionHistoryRepository) MarkClosed(ctx context.Context, sessionID string, closedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&telegramSessionModel{}).
		Where("session_id = ?", sessionID).
		Where("closed_at IS NULL").
		Update("closed_at", closedAt.UTC()).Error
}
