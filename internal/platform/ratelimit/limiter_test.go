package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_BurstThenReject(t *testing.T) {
	l := NewMemoryLimiter(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "clinician-1")
		require.NoError(t, err)
		require.True(t, res.Allowed, "hit %d", i)
	}

	res, err := l.Allow(ctx, "clinician-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	// Otra key tiene su propio bucket.
	res, err = l.Allow(ctx, "clinician-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := rdb.NewClient(&rdb.Options{Addr: addr})
	defer client.Close()

	l := NewRedisLimiter(client, "consent:test:", 2, time.Minute)
	key := "k-" + time.Now().Format("150405.000000")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, key)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}
