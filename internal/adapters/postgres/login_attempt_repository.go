package postgres

import (
	"context"

	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/domain"
	"gorm.io/gorm"
)

type loginAttemptRepository struct {
	db *gorm.DB
}

func (r *loginAttemptRepository) Insert(ctx context.Context, attempt domain.LoginAttempt) error {
	rec := loginAttemptModel{
		SessionID: attempt.SessionID,
		Operation: attempt.Operation,
		Status:    string(attempt.Status),
		Message:   attempt.Message,
		AttemptAt: attempt.AttemptAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *loginAttemptRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.LoginAttempt, error) {
	var rows []loginAttemptModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("attempt_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.LoginAttempt, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainLoginAttempt(row))
	}
	return result, nil
}
