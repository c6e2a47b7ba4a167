package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/ports"
)

const (
	lockoutKeyPrefix = "telegram:lockout:"
	// counters without a lock expire after this idle period
	failureCounterTTL = 24 * time.Hour
)

// RedisLockoutStore counts failed code/password submissions in Redis hashes so that
// every service instance sees the same envelope.
type RedisLockoutStore struct {
	client redis.Cmdable
}

// NewRedisLockoutStore creates a lockout store backed by Redis hashes.
func NewRedisLockoutStore(client redis.Cmdable) *RedisLockoutStore {
	return &RedisLockoutStore{client: client}
}

func (s *RedisLockoutStore) Get(ctx context.Context, key string) (ports.LockoutState, error) {
	data, err := s.client.HGetAll(ctx, lockoutKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.LockoutState{}, nil
		}
		return ports.LockoutState{}, err
	}
	return parseLockout(data), nil
}

// RecordFailure increments the counter and sets locked_until once the threshold is hit.
func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (ports.LockoutState, error) {
	redisKey := lockoutKeyPrefix + key

	var incr *redis.IntCmd
	if _, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, redisKey, "failed_count", 1)
		p.Expire(ctx, redisKey, failureCounterTTL)
		return nil
	}); err != nil {
		return ports.LockoutState{}, err
	}

	state := ports.LockoutState{FailedCount: int(incr.Val())}
	if threshold <= 0 || state.FailedCount < threshold {
		return state, nil
	}

	lockedUntil := now.Add(lockoutWindow).UTC()
	if _, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisKey, "locked_until", lockedUntil.Unix())
		p.Expire(ctx, redisKey, lockoutWindow)
		return nil
	}); err != nil {
		return ports.LockoutState{}, err
	}
	state.LockedUntil = &lockedUntil
	return state, nil
}

func (s *RedisLockoutStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, lockoutKeyPrefix+key).Err()
}

func parseLockout(data map[string]string) ports.LockoutState {
	state := ports.LockoutState{}
	if raw, ok := data["failed_count"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			state.FailedCount = n
		}
	}
	if raw, ok := data["locked_until"]; ok && raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
			t := time.Unix(unix, 0).UTC()
			state.LockedUntil = &t
		}
	}
	return state
}
