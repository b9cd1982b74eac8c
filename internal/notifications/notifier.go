// Package notifications fans chat events out to websocket sessions, across instances
// when Redis is configured.
package notifications

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	userChannelPrefix   = "notifications:user:"
	convChannelPrefix   = "chat:conv:"
	typingChannelPrefix = "typing:conv:"
)

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether events travel through Redis. Without it the dispatcher
// delivers to the local hub only.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishUser sends a payload to a user's private channel.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload string) error {
	return n.publish(ctx, UserChannel(userID), payload)
}

// PublishConversation sends a payload to a conversation's broadcast channel.
func (n *Notifier) PublishConversation(ctx context.Context, conversationID uint, payload string) error {
	return n.publish(ctx, ConversationChannel(conversationID), payload)
}

// PublishTyping sends a typing indicator for a conversation.
func (n *Notifier) PublishTyping(ctx context.Context, conversationID uint, payload string) error {
	return n.publish(ctx, TypingChannel(conversationID), payload)
}

func (n *Notifier) publish(ctx context.Context, channel, payload string) error {
	if !n.Enabled() {
		return nil
	}
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// StartUserSubscriber subscribes to every private user channel.
func (n *Notifier) StartUserSubscriber(ctx context.Context, onMessage func(channel string, payload string)) error {
	return n.subscribe(ctx, "UserSubscriber", onMessage, userChannelPrefix+"*")
}

// StartChatSubscriber subscribes to conversation and typing channels.
func (n *Notifier) StartChatSubscriber(ctx context.Context, onMessage func(channel string, payload string)) error {
	return n.subscribe(ctx, "ChatSubscriber", onMessage, convChannelPrefix+"*", typingChannelPrefix+"*")
}

// subscribe waits for the subscription to be confirmed, then forwards messages on a
// goroutine until ctx is done. A panicking callback only loses its own message.
func (n *Notifier) subscribe(ctx context.Context, name string, onMessage func(string, string), patterns ...string) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, patterns...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", strings.Join(patterns, ","), err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in %s: %v\n%s", name, r, debug.Stack())
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}

// ConversationChannel derives the Redis channel name for a conversation.
func ConversationChannel(conversationID uint) string {
	return convChannelPrefix + strconv.FormatUint(uint64(conversationID), 10)
}

// TypingChannel derives the Redis channel name for a conversation's typing indicators.
func TypingChannel(conversationID uint) string {
	return typingChannelPrefix + strconv.FormatUint(uint64(conversationID), 10)
}

// ParseChannel splits a channel name into its prefix and numeric id.
func ParseChannel(channel string) (prefix string, id uint, ok bool) {
	for _, p := range []string{userChannelPrefix, convChannelPrefix, typingChannelPrefix} {
		if rest, found := strings.CutPrefix(channel, p); found {
			v, err := strconv.ParseUint(rest, 10, 64)
			if err != nil || v == 0 {
				return "", 0, false
			}
			return p, uint(v), true
		}
	}
	return "", 0, false
}
