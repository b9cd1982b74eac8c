// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"fmt"
	"log"
	"sort"
	"time"

	"parley/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password given to every seeded account.
const DefaultPassword = "password123"

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by the seeder and tests.
type Factory struct {
	db     *gorm.DB
	opts   Options
	nextID uint
	hash   string
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	return &Factory{db: db, opts: opts, nextID: 1000}
}

func (f *Factory) passwordHash() string {
	if f.opts.SkipBcrypt {
		return DefaultPassword
	}
	if f.hash == "" {
		hashed, _ := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
		f.hash = string(hashed)
	}
	return f.hash
}

// BuildUser constructs a user without persisting it.
func (f *Factory) BuildUser(overrides ...func(*models.User)) *models.User {
	user := &models.User{
		Username: gofakeit.Username() + fmt.Sprintf("%d", gofakeit.Number(100, 999)),
		Email:    gofakeit.Email(),
		Bio:      gofakeit.Sentence(10),
		Avatar:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
		Password: f.passwordHash(),
	}
	for _, override := range overrides {
		override(user)
	}
	return user
}

// CreateUser persists a fake user.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	user := f.BuildUser(overrides...)

	if f.opts.DryRun {
		f.nextID++
		user.ID = f.nextID
		log.Printf("[dry-run] CreateUser: %s", user.Username)
		return user, nil
	}

	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateFriendship records a friendship between two users with the given status.
func (f *Factory) CreateFriendship(requester, addressee *models.User, status models.FriendshipStatus) error {
	if f.opts.DryRun {
		return nil
	}
	return f.db.Create(&models.Friendship{
		RequesterID: requester.ID,
		AddresseeID: addressee.ID,
		Status:      status,
	}).Error
}

// BuildLegacyMessage constructs a pre-conversation flat message between two users.
// Timestamps fall within the last MaxDays days.
func (f *Factory) BuildLegacyMessage(sender, receiver *models.User, read bool) *models.LegacyMessage {
	s, r, isRead := sender.ID, receiver.ID, read
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 30
	}
	created := time.Now().Add(-time.Duration(gofakeit.Number(1, maxDays*24*60)) * time.Minute)

	msg := &models.LegacyMessage{
		SenderID:   &s,
		ReceiverID: &r,
		IsRead:     &isRead,
		Type:       models.MessageTypeText,
		Content:    gofakeit.Sentence(gofakeit.Number(3, 14)),
		CreatedAt:  created.UTC(),
	}
	if gofakeit.Number(1, 10) == 1 {
		msg.Type = models.MessageTypeImage
		msg.Content = fmt.Sprintf("https://picsum.photos/seed/%d/800/600", gofakeit.Number(1, 10000))
	}
	return msg
}

// CreateLegacyHistory writes count flat messages exchanged between a and b.
// Every message except the trailing unread run is marked read.
func (f *Factory) CreateLegacyHistory(a, b *models.User, count int) ([]*models.LegacyMessage, error) {
	if count <= 0 {
		return nil, nil
	}
	unread := gofakeit.Number(0, count/2)
	msgs := make([]*models.LegacyMessage, 0, count)
	for i := 0; i < count; i++ {
		sender, receiver := a, b
		if gofakeit.Bool() {
			sender, receiver = b, a
		}
		msgs = append(msgs, f.BuildLegacyMessage(sender, receiver, true))
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	for _, m := range msgs[count-unread:] {
		read := false
		m.IsRead = &read
	}

	if f.opts.DryRun {
		log.Printf("[dry-run] CreateLegacyHistory: %d messages between %d and %d", len(msgs), a.ID, b.ID)
		return msgs, nil
	}

	batch := f.opts.BatchSize
	if batch <= 0 {
		batch = 100
	}
	if err := f.db.CreateInBatches(msgs, batch).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
