package service

import (
	"context"
	"strconv"
	"sync"

	"parley/internal/models"
)

// sendLocks serializes commit-then-enqueue for one conversation on this instance, so
// the dispatcher sees a conversation's events in the order they were committed.
type sendLocks struct {
	mu    sync.Mutex
	locks map[string]*sendLock
}

type sendLock struct {
	sync.Mutex
	refs int
}

func newSendLocks() *sendLocks {
	return &sendLocks{locks: make(map[string]*sendLock)}
}

// lock blocks until key is free and returns its release func.
func (l *sendLocks) lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &sendLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func pairOrderingKey(a, b uint) string {
	return "pair:" + models.PairKey(a, b)
}

// orderingKey names the conversation a send lands in. A DIRECT conversation is keyed by
// its pair whether it is addressed by id or by receiver.
func (g *Gatekeeper) orderingKey(ctx context.Context, in SendInput) (string, error) {
	if in.ConversationID == 0 {
		return pairOrderingKey(in.SenderID, in.ReceiverID), nil
	}
	conv, err := g.repos.Conversations.FindByID(ctx, in.ConversationID)
	if err != nil {
		return "", err
	}
	if conv.IsDirect() && conv.ParticipantsNormalized != nil {
		return "pair:" + *conv.ParticipantsNormalized, nil
	}
	return "conv:" + strconv.FormatUint(uint64(conv.ID), 10), nil
}
