package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLockout(t *testing.T) {
	t.Parallel()

	until := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := parseLockout(map[string]string{
		"failed_count": "5",
		"locked_until": strconv.FormatInt(until.Unix(), 10),
	})
	assert.Equal(t, 5, state.FailedCount)
	require.NotNil(t, state.LockedUntil)
	assert.True(t, until.Equal(*state.LockedUntil))
	assert.True(t, state.Locked(until.Add(-time.Minute)))
	assert.False(t, state.Locked(until.Add(time.Minute)))
}

func TestParseLockoutIgnoresGarbage(t *testing.T) {
	t.Parallel()

	state := parseLockout(map[string]string{"failed_count": "many", "locked_until": "soon"})
	assert.Zero(t, state.FailedCount)
	assert.Nil(t, state.LockedUntil)

	empty := parseLockout(nil)
	assert.Zero(t, empty.FailedCount)
	assert.False(t, empty.Locked(time.Now()))
}

func TestRedisLockoutStoreSurfacesConnectionErrors(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisLockoutStore(client)
	ctx := context.Background()

	_, err := store.Get(ctx, "submit:+15550001")
	assert.Error(t, err)
	_, err = store.RecordFailure(ctx, "submit:+15550001", time.Now(), 3, time.Minute)
	assert.Error(t, err)
	assert.Error(t, store.Clear(ctx, "submit:+15550001"))
}

func TestConnectRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "redis://%zz")
	assert.Error(t, err)
}
