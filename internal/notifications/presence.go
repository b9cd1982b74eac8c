package notifications

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPresenceKeyPrefix = "ws:presence:"
	defaultPresenceTTL       = 90 * time.Second
)

// PresenceConfig controls how presence is mirrored in Redis.
type PresenceConfig struct {
	KeyPrefix  string
	TTL        time.Duration
	InstanceID string
}

// PresenceTracker answers "is this user connected anywhere". Each instance keeps its
// local session counts and mirrors them into a Redis sorted set per user whose members
// are instance ids scored by expiry, so a crashed instance ages out after TTL.
type PresenceTracker struct {
	rdb *redis.Client

	mu         sync.RWMutex
	localCount map[uint]int

	keyPrefix  string
	ttl        time.Duration
	instanceID string
}

// NewPresenceTracker creates a tracker. A nil client tracks local sessions only.
func NewPresenceTracker(rdb *redis.Client, cfg PresenceConfig) *PresenceTracker {
	p := &PresenceTracker{
		rdb:        rdb,
		localCount: make(map[uint]int),
		keyPrefix:  defaultPresenceKeyPrefix,
		ttl:        defaultPresenceTTL,
		instanceID: cfg.InstanceID,
	}
	if cfg.KeyPrefix != "" {
		p.keyPrefix = cfg.KeyPrefix
	}
	if cfg.TTL > 0 {
		p.ttl = cfg.TTL
	}
	if p.instanceID == "" {
		p.instanceID = uuid.NewString()
	}
	return p
}

// Register counts a new local session for userID.
func (p *PresenceTracker) Register(ctx context.Context, userID uint) {
	p.mu.Lock()
	p.localCount[userID]++
	p.mu.Unlock()
	p.Touch(ctx, userID)
}

// Touch extends this instance's presence entry for userID.
func (p *PresenceTracker) Touch(ctx context.Context, userID uint) {
	if p.rdb == nil {
		return
	}
	key := p.key(userID)
	expiry := time.Now().Add(p.ttl).Unix()
	pipe := p.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry), Member: p.instanceID})
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("presence touch failed for user %d: %v", userID, err)
	}
}

// Unregister drops one local session. The Redis entry is removed with the last one.
func (p *PresenceTracker) Unregister(ctx context.Context, userID uint) {
	p.mu.Lock()
	n := p.localCount[userID] - 1
	if n > 0 {
		p.localCount[userID] = n
		p.mu.Unlock()
		return
	}
	delete(p.localCount, userID)
	p.mu.Unlock()

	if p.rdb == nil {
		return
	}
	if err := p.rdb.ZRem(ctx, p.key(userID), p.instanceID).Err(); err != nil {
		log.Printf("presence remove failed for user %d: %v", userID, err)
	}
}

// IsOnline reports whether userID has a session on this or any other live instance.
// Redis errors count as offline.
func (p *PresenceTracker) IsOnline(ctx context.Context, userID uint) bool {
	if p.IsLocal(userID) {
		return true
	}
	if p.rdb == nil {
		return false
	}
	key := p.key(userID)
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := p.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+now).Err(); err != nil {
		return false
	}
	n, err := p.rdb.ZCard(ctx, key).Result()
	return err == nil && n > 0
}

// IsLocal reports whether userID has a session on this instance.
func (p *PresenceTracker) IsLocal(userID uint) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localCount[userID] > 0
}

// LocalUserIDs returns the users with a session on this instance.
func (p *PresenceTracker) LocalUserIDs() []uint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]uint, 0, len(p.localCount))
	for id := range p.localCount {
		ids = append(ids, id)
	}
	return ids
}

func (p *PresenceTracker) key(userID uint) string {
	return p.keyPrefix + strconv.FormatUint(uint64(userID), 10)
}
