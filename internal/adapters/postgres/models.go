package postgres

import (
	"time"

	"github.com/google/uuid"
)

type telegramSessionModel struct {
	SessionID    string     `gorm:"column:session_id;primaryKey"`
	Phone        string     `gorm:"column:phone"`
	IsAuthorized bool       `gorm:"column:is_authorized"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	LastUsed     time.Time  `gorm:"column:last_used"`
	ClosedAt     *time.Time `gorm:"column:closed_at"`
}

func (telegramSessionModel) TableName() string { return "telegram_sessions" }

type loginAttemptModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	SessionID string    `gorm:"column:session_id"`
	Operation string    `gorm:"column:operation"`
	Status    string    `gorm:"column:status"`
	Message   string    `gorm:"column:message"`
	AttemptAt time.Time `gorm:"column:attempt_at"`
}

func (loginAttemptModel) TableName() string { return "telegram_login_attempts" }

type telegramOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (telegramOutboxModel) TableName() string { return "telegram_outbox" }
