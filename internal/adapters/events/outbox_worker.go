package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

// OutboxWorkerConfig tunes the publish loop. Zero values take defaults.
type OutboxWorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimTTL   time.Duration
	MaxRetries int
}

func (c OutboxWorkerConfig) withDefaults() OutboxWorkerConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// OutboxWorker delivers session lifecycle events (created, authorized, closed)
// from telegram_outbox to the publisher, keyed by session id so one session's
// events stay ordered on a partition.
type OutboxWorker struct {
	logger     *slog.Logger
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, cfg OutboxWorkerConfig) *OutboxWorker {
	cfg = cfg.withDefaults()
	return &OutboxWorker{
		logger:     logger.With("module", "events.outbox_worker", "layer", "adapter"),
		outbox:     outbox,
		publisher:  publisher,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		claimTTL:   cfg.ClaimTTL,
		maxRetries: cfg.MaxRetries,
	}
}

// Run polls until ctx ends. A failed batch is logged and retried on the next tick.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "session event batch failed",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type delivery int

const (
	delivered delivery = iota
	retryLater
	deadLettered
)

type batchStats struct {
	published    int
	failed       int
	deadLettered int
}

// ProcessOnce claims one batch under a fresh claim token and delivers it.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) error {
	claimToken := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, claimToken, time.Now().UTC().Add(w.claimTTL))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var stats batchStats
	for _, rec := range records {
		switch w.deliver(ctx, rec, claimToken) {
		case delivered:
			stats.published++
		case retryLater:
			stats.failed++
		case deadLettered:
			stats.deadLettered++
		}
	}
	w.logger.InfoContext(ctx, "session event batch processed",
		"operation", "outbox_process_once",
		"outcome", "success",
		"batch_size", len(records),
		"published_count", stats.published,
		"failed_count", stats.failed,
		"dead_lettered_count", stats.deadLettered,
	)
	return nil
}

func (w *OutboxWorker) deliver(ctx context.Context, rec ports.OutboxRecord, claimToken string) delivery {
	now := time.Now().UTC()
	if rec.RetryCount >= w.maxRetries {
		_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, "retry limit reached", now)
		return deadLettered
	}

	err := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey)
	if err == nil {
		if markErr := w.outbox.MarkPublished(ctx, rec.OutboxID, claimToken, now); markErr != nil {
			w.logger.WarnContext(ctx, "session event published but not marked",
				"operation", "mark_published",
				"outcome", "failure",
				"outbox_id", rec.OutboxID,
				"error", markErr,
			)
		}
		return delivered
	}

	attempts := rec.RetryCount + 1
	log := w.logger.With(
		"operation", "publish_event",
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"session_id", rec.PartitionKey,
		"retry_count", attempts,
		"error", err,
	)
	if attempts >= w.maxRetries {
		log.ErrorContext(ctx, "session event dead-lettered")
		_ = w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, err.Error(), now)
		return deadLettered
	}
	log.WarnContext(ctx, "session event publish failed, will retry")
	_ = w.outbox.MarkFailed(ctx, rec.OutboxID, claimToken, err.Error(), now)
	return retryLater
}
