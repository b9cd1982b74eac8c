package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() {
		SetClient(nil)
		mr.Close()
	})
	return mr
}

func TestAside_FetchesOnceThenServesFromRedis(t *testing.T) {
	setupMiniredis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *int64) func() error {
		return func() error {
			calls++
			*dest = 7
			return nil
		}
	}

	var first int64
	require.NoError(t, Aside(ctx, PendingRequestCountKey(3), &first, time.Minute, fetch(&first)))
	var second int64
	require.NoError(t, Aside(ctx, PendingRequestCountKey(3), &second, time.Minute, fetch(&second)))

	assert.Equal(t, int64(7), first)
	assert.Equal(t, int64(7), second)
	assert.Equal(t, 1, calls)
}

func TestAside_InvalidateForcesRefetch(t *testing.T) {
	mr := setupMiniredis(t)
	ctx := context.Background()

	var v int64
	require.NoError(t, Aside(ctx, PendingRequestCountKey(9), &v, time.Minute, func() error { v = 1; return nil }))
	assert.True(t, mr.Exists("msgreq:pending:9"))

	InvalidatePendingRequestCount(ctx, 9)
	assert.False(t, mr.Exists("msgreq:pending:9"))
}

func TestAside_WithoutRedisCallsFetch(t *testing.T) {
	SetClient(nil)
	var v string
	err := Aside(context.Background(), UserKey(1), &v, time.Minute, func() error { v = "x"; return nil })
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	boom := errors.New("boom")
	assert.ErrorIs(t, Aside(context.Background(), UserKey(1), &v, time.Minute, func() error { return boom }), boom)
}
