// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"parley/internal/database"
	"parley/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewSQLiteDB opens a private in-memory database with the full messaging schema.
// The pool is pinned to one connection so concurrent callers serialize instead of
// failing with SQLITE_BUSY.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:parley_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	return db
}

// UseAsGlobalDB points database.DB at db for the duration of the test.
func UseAsGlobalDB(t testing.TB, db *gorm.DB) {
	t.Helper()
	prevDB, prevRead := database.DB, database.ReadDB
	database.DB, database.ReadDB = db, nil
	t.Cleanup(func() { database.DB, database.ReadDB = prevDB, prevRead })
}

// CreateUser inserts a user with a unique email derived from the username.
func CreateUser(t testing.TB, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{
		Username: username,
		Email:    username + "@example.test",
		Password: "x",
		Avatar:   "https://cdn.example.test/" + username + ".png",
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// Befriend records an accepted friendship between a and b.
func Befriend(t testing.TB, db *gorm.DB, a, b uint) {
	t.Helper()
	require.NoError(t, db.Create(&models.Friendship{
		RequesterID: a,
		AddresseeID: b,
		Status:      models.FriendshipStatusAccepted,
	}).Error)
}

// InsertLegacyMessage writes a pre-conversation row with sender/receiver columns only.
func InsertLegacyMessage(t testing.TB, db *gorm.DB, sender, receiver uint, content string, read bool) *models.LegacyMessage {
	t.Helper()
	s, r, isRead := sender, receiver, read
	m := &models.LegacyMessage{
		SenderID:   &s,
		ReceiverID: &r,
		IsRead:     &isRead,
		Type:       models.MessageTypeText,
		Content:    content,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}
