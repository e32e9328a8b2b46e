package auth

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Skipf("redis url invalid: %v", err)
	}
	c := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisCodeStore(t *testing.T) {
	c := setupTestRedis(t)
	store := NewRedisCodeStore(c)
	ctx := context.Background()
	phone := "+1" + uuid.NewString()[:8]
	t.Cleanup(func() { c.Del(ctx, keyPrefixCode+phone, keyPrefixCooldown+phone) })

	_, err := store.Get(ctx, phone)
	require.True(t, errors.Is(err, ErrCodeNotFound))
	_, err = store.IncrementAttempts(ctx, phone)
	require.True(t, errors.Is(err, ErrCodeNotFound))

	require.NoError(t, store.Save(ctx, phone, "hash-1", time.Minute))
	n, err := store.IncrementAttempts(ctx, phone)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Saving again resets the attempt counter.
	require.NoError(t, store.Save(ctx, phone, "hash-2", time.Minute))
	rec, err := store.Get(ctx, phone)
	require.NoError(t, err)
	require.Equal(t, "hash-2", rec.Hash)
	require.Zero(t, rec.Attempts)

	// Consume is compare-and-delete: a replaced or used code is refused.
	ok, err := store.Consume(ctx, phone, "hash-1")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = store.Consume(ctx, phone, "hash-2")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Consume(ctx, phone, "hash-2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Save(ctx, phone, "hash-3", time.Minute))
	require.NoError(t, store.Delete(ctx, phone))
	_, err = store.Get(ctx, phone)
	require.True(t, errors.Is(err, ErrCodeNotFound))

	ok, err = store.AcquireCooldown(ctx, phone, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.AcquireCooldown(ctx, phone, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
