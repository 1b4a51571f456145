package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"meetsync/internal/models"
	"meetsync/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CanAccess(ctx context.Context, kind models.Kind, conversationID int, userID int) (bool, error) {
	args := m.Called(ctx, kind, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) AddMember(ctx context.Context, kind models.Kind, conversationID int, userID int) error {
	args := m.Called(ctx, kind, conversationID, userID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, kind models.Kind, conversationID int, senderID int, content string) (models.Record, error) {
	args := m.Called(ctx, kind, conversationID, senderID, content)
	var rec models.Record
	if val := args.Get(0); val != nil {
		rec = val.(models.Record)
	}
	return rec, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, kind models.Kind, conversationID int, viewerID int, limit, offset int) ([]models.Record, int, error) {
	args := m.Called(ctx, kind, conversationID, viewerID, limit, offset)
	var list []models.Record
	if val := args.Get(0); val != nil {
		list = val.([]models.Record)
	}
	return list, args.Int(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, kind models.Kind, conversationID int, messageID int, userID int) error {
	args := m.Called(ctx, kind, conversationID, messageID, userID)
	return args.Error(0)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) Authenticate(ctx context.Context, username, password string) (int, error) {
	args := m.Called(ctx, username, password)
	return args.Int(0), args.Error(1)
}

var (
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
	_ repositories.MessageRepository      = (*MessageRepositoryMock)(nil)
	_ repositories.UserRepository         = (*UserRepositoryMock)(nil)
)
