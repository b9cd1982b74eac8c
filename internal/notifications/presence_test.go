package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_LocalOnly(t *testing.T) {
	ctx := context.Background()
	p := NewPresenceTracker(nil, PresenceConfig{})

	p.Register(ctx, 1)
	p.Register(ctx, 1)
	assert.True(t, p.IsOnline(ctx, 1))
	assert.ElementsMatch(t, []uint{1}, p.LocalUserIDs())

	p.Unregister(ctx, 1)
	assert.True(t, p.IsOnline(ctx, 1), "one session remains")
	p.Unregister(ctx, 1)
	assert.False(t, p.IsOnline(ctx, 1))
	assert.Empty(t, p.LocalUserIDs())
}

func TestPresenceTracker_AcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx := context.Background()
	east := NewPresenceTracker(rdb, PresenceConfig{InstanceID: "east", TTL: 30 * time.Second})
	west := NewPresenceTracker(rdb, PresenceConfig{InstanceID: "west", TTL: 30 * time.Second})

	east.Register(ctx, 5)
	assert.True(t, west.IsOnline(ctx, 5), "sessions on another instance count")
	assert.False(t, west.IsLocal(5))

	west.Register(ctx, 5)
	east.Unregister(ctx, 5)
	assert.True(t, east.IsOnline(ctx, 5), "still connected to west")

	west.Unregister(ctx, 5)
	assert.False(t, east.IsOnline(ctx, 5))

	t.Run("Crashed instance ages out", func(t *testing.T) {
		east.Register(ctx, 6)
		assert.True(t, west.IsOnline(ctx, 6))

		mr.FastForward(31 * time.Second)
		assert.False(t, west.IsOnline(ctx, 6))
	})
}

func TestPresenceTracker_RedisDownCountsAsOffline(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx := context.Background()
	p := NewPresenceTracker(rdb, PresenceConfig{})
	p.Register(ctx, 8)
	mr.Close()

	assert.True(t, p.IsOnline(ctx, 8), "local sessions never need Redis")
	assert.False(t, p.IsOnline(ctx, 9))
}
