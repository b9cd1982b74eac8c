package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"parley/internal/featureflags"
	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type userRepoStub struct {
	getByIDFn       func(context.Context, uint) (*models.User, error)
	getByIDsFn      func(context.Context, []uint) (map[uint]*models.User, error)
	getByUsernameFn func(context.Context, string) (*models.User, error)
	createFn        func(context.Context, *models.User) error
	updateFn        func(context.Context, *models.User) error
	setAdminFn      func(context.Context, string, bool) (*models.User, error)
}

func (s *userRepoStub) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return s.getByIDFn(ctx, id)
}
func (s *userRepoStub) GetByIDs(ctx context.Context, ids []uint) (map[uint]*models.User, error) {
	return s.getByIDsFn(ctx, ids)
}
func (s *userRepoStub) LockByIDs(ctx context.Context, ids []uint) (map[uint]*models.User, error) {
	return s.getByIDsFn(ctx, ids)
}
func (s *userRepoStub) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getByUsernameFn(ctx, username)
}
func (s *userRepoStub) Create(ctx context.Context, user *models.User) error {
	return s.createFn(ctx, user)
}
func (s *userRepoStub) Update(ctx context.Context, user *models.User) error {
	return s.updateFn(ctx, user)
}
func (s *userRepoStub) SetAdmin(ctx context.Context, username string, admin bool) (*models.User, error) {
	return s.setAdminFn(ctx, username, admin)
}

func noopUserRepo() *userRepoStub {
	return &userRepoStub{
		getByIDFn:       func(context.Context, uint) (*models.User, error) { return &models.User{}, nil },
		getByIDsFn:      func(context.Context, []uint) (map[uint]*models.User, error) { return map[uint]*models.User{}, nil },
		getByUsernameFn: func(context.Context, string) (*models.User, error) { return nil, nil },
		createFn:        func(context.Context, *models.User) error { return nil },
		updateFn:        func(context.Context, *models.User) error { return nil },
		setAdminFn:      func(context.Context, string, bool) (*models.User, error) { return &models.User{}, nil },
	}
}

// convRepoStub only overrides what the tests use; every other method panics through
// the nil embedded interface.
type convRepoStub struct {
	repository.ConversationRepository
	refreshFn func(context.Context, *models.User) error
}

func (s *convRepoStub) RefreshMemberProfiles(ctx context.Context, user *models.User) error {
	return s.refreshFn(ctx, user)
}

func noopConvRepo() *convRepoStub {
	return &convRepoStub{
		refreshFn: func(context.Context, *models.User) error { return nil },
	}
}

type dispatchRecord struct {
	kind           string
	conversationID uint
	participants   []uint
	message        *models.Message
	request        *models.MessageRequest
	readerID       uint
	isTyping       bool
}

// recordingDispatcher captures events in call order.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatchRecord
}

func (d *recordingDispatcher) add(r dispatchRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, r)
}

func (d *recordingDispatcher) DispatchMessage(_ context.Context, msg *models.Message, participantIDs []uint) {
	d.add(dispatchRecord{kind: "message", conversationID: *msg.ConversationID, participants: participantIDs, message: msg})
}

func (d *recordingDispatcher) DispatchRequest(_ context.Context, req *models.MessageRequest, msg *models.Message) {
	d.add(dispatchRecord{kind: "message_request", request: req, message: msg, participants: []uint{req.ReceiverID}})
}

func (d *recordingDispatcher) DispatchRequestAccepted(_ context.Context, req *models.MessageRequest, conv *models.Conversation) {
	d.add(dispatchRecord{kind: "message_request_accepted", request: req, conversationID: conv.ID, participants: conv.ParticipantIDs()})
}

func (d *recordingDispatcher) DispatchRead(_ context.Context, conversationID uint, participantIDs []uint, _, readerID uint) {
	d.add(dispatchRecord{kind: "read", conversationID: conversationID, participants: participantIDs, readerID: readerID})
}

func (d *recordingDispatcher) DispatchTyping(_ context.Context, conversationID uint, participantIDs []uint, _ models.UserSummary, isTyping bool) {
	d.add(dispatchRecord{kind: "typing", conversationID: conversationID, participants: participantIDs, isTyping: isTyping})
}

func (d *recordingDispatcher) kinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.events))
	for i, e := range d.events {
		out[i] = e.kind
	}
	return out
}

func (d *recordingDispatcher) last() dispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[len(d.events)-1]
}

// messagingFixture wires the services against a private sqlite database.
type messagingFixture struct {
	db         *gorm.DB
	repos      repository.Repositories
	dispatcher *recordingDispatcher
	gatekeeper *Gatekeeper
	convs      *ConversationService
}

func newMessagingFixture(t *testing.T, flags string) *messagingFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	repos := repository.NewRepositories(db)
	d := &recordingDispatcher{}
	return &messagingFixture{
		db:         db,
		repos:      repos,
		dispatcher: d,
		gatekeeper: NewGatekeeper(repository.NewTransactor(db), repos, d, featureflags.NewManager(flags)),
		convs:      NewConversationService(repos, d),
	}
}

func (f *messagingFixture) send(t *testing.T, from, to uint, content string) *SendResult {
	t.Helper()
	res, err := f.gatekeeper.Send(context.Background(), SendInput{SenderID: from, ReceiverID: to, Content: content})
	require.NoError(t, err)
	return res
}

func assertAppErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
}

// assertValidationError asserts that err is an AppError with code VALIDATION_ERROR.
func assertValidationError(t *testing.T, err error) {
	t.Helper()
	assertAppErrorCode(t, err, models.CodeValidation)
}
