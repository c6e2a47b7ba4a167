package postgres

import (
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
	"gorm.io/gorm"
)

// Repositories groups the Postgres-backed ports used by the application service.
type Repositories struct {
	Sessions      ports.SessionHistoryRepository
	LoginAttempts ports.LoginAttemptRepository
	Outbox        ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Sessions:      &sessionHistoryRepository{db: db},
		LoginAttempts: &loginAttemptRepository{db: db},
		Outbox:        &outboxRepository{db: db},
	}
}
