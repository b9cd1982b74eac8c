package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	UserKeyPrefix                = "user:%d"
	PendingRequestCountKeyPrefix = "msgreq:pending:%d"
	PresenceKeyPrefix            = "presence:user:%d"
)

const (
	UserTTL                = 5 * time.Minute
	PendingRequestCountTTL = 2 * time.Minute
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

// PendingRequestCountKey caches the receiver's PENDING message request count.
func PendingRequestCountKey(receiverID uint) string {
	return fmt.Sprintf(PendingRequestCountKeyPrefix, receiverID)
}

func PresenceKey(userID uint) string {
	return fmt.Sprintf(PresenceKeyPrefix, userID)
}

func Invalidate(ctx context.Context, keys ...string) {
	if client != nil && len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, UserKey(userID))
}

// InvalidatePendingRequestCount drops the cached count for each receiver.
func InvalidatePendingRequestCount(ctx context.Context, receiverIDs ...uint) {
	keys := make([]string, 0, len(receiverIDs))
	for _, id := range receiverIDs {
		keys = append(keys, PendingRequestCountKey(id))
	}
	Invalidate(ctx, keys...)
}
