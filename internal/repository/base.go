// Package repository provides data access layer implementations for the messaging core.
package repository

import (
	"context"

	"parley/internal/database"

	"gorm.io/gorm"
)

// readDB routes list queries to the replica. Callers already inside a transaction keep
// their own handle so they read their uncommitted writes.
func readDB(primary *gorm.DB) *gorm.DB {
	if inTransaction(primary) {
		return primary
	}
	if database.ReadDB != nil {
		return database.ReadDB
	}
	return primary
}

func inTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

// Repositories bundles every repository bound to one connection or transaction.
type Repositories struct {
	Conversations  ConversationRepository
	Messages       MessageRepository
	Requests       MessageRequestRepository
	LegacyMessages LegacyMessageRepository
	Users          UserRepository
	Friends        FriendRepository
}

// NewRepositories binds every repository to db.
func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Conversations:  NewConversationRepository(db),
		Messages:       NewMessageRepository(db),
		Requests:       NewMessageRequestRepository(db),
		LegacyMessages: NewLegacyMessageRepository(db),
		Users:          NewUserRepository(db),
		Friends:        NewFriendRepository(db),
	}
}

// Transactor runs a unit of work against repositories that share one transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor returns a Transactor backed by db.
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

// WithinTx commits when fn returns nil and rolls back otherwise. Nested calls use
// savepoints.
func (t *gormTransactor) WithinTx(ctx context.Context, fn func(repos Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
