package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.PublishUser(context.Background(), 1, "test payload"))
	assert.NoError(t, n.PublishConversation(context.Background(), 1, "test payload"))
	assert.NoError(t, n.StartChatSubscriber(context.Background(), func(string, string) {}))

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
}

func TestChannels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		channel string
		prefix  string
		id      uint
		ok      bool
	}{
		{UserChannel(1), userChannelPrefix, 1, true},
		{ConversationChannel(100), convChannelPrefix, 100, true},
		{TypingChannel(7), typingChannelPrefix, 7, true},
		{"chat:conv:abc", "", 0, false},
		{"chat:conv:0", "", 0, false},
		{"game:room:3", "", 0, false},
	}

	for _, tt := range tests {
		prefix, id, ok := ParseChannel(tt.channel)
		assert.Equal(t, tt.ok, ok, tt.channel)
		assert.Equal(t, tt.prefix, prefix, tt.channel)
		assert.Equal(t, tt.id, id, tt.channel)
	}
	assert.Equal(t, "notifications:user:1", UserChannel(1))
	assert.Equal(t, "chat:conv:5", ConversationChannel(5))
	assert.Equal(t, "typing:conv:5", TypingChannel(5))
}

func TestNotifier_ChatSubscriber_StopsOnCancel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received int32
	payloads := make(chan string, 4)
	require.NoError(t, n.StartChatSubscriber(ctx, func(_ string, payload string) {
		atomic.AddInt32(&received, 1)
		payloads <- payload
	}))

	require.NoError(t, n.PublishConversation(context.Background(), 9, "before-cancel"))
	require.NoError(t, n.PublishTyping(context.Background(), 9, "typing"))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) >= 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)

	// Drain the pre-cancel messages to avoid false positives.
	for len(payloads) > 0 {
		<-payloads
	}

	require.NoError(t, n.PublishConversation(context.Background(), 9, "after-cancel"))
	assert.Never(t, func() bool {
		select {
		case payload := <-payloads:
			return payload == "after-cancel"
		default:
			return false
		}
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestNotifier_SubscriberSurvivesPanics(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	require.NoError(t, n.StartUserSubscriber(ctx, func(channel, payload string) {
		if payload == "boom" {
			panic("handler failed")
		}
		got <- channel
	}))

	require.NoError(t, n.PublishUser(ctx, 4, "boom"))
	require.NoError(t, n.PublishUser(ctx, 4, "fine"))

	select {
	case channel := <-got:
		assert.Equal(t, "notifications:user:4", channel)
	case <-time.After(time.Second):
		t.Fatal("subscriber stopped after a panic")
	}
}
