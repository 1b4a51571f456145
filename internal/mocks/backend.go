package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"meetsync/internal/models"
)

// BackendMock stands in for api.Backend in sync-engine tests.
type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) SendMessage(ctx context.Context, entry models.OutboxEntry) (models.Message, error) {
	args := m.Called(ctx, entry)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) FetchLatest(ctx context.Context, ref models.ConversationRef, window int) ([]models.Message, error) {
	args := m.Called(ctx, ref, window)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *BackendMock) MarkRead(ctx context.Context, ref models.ConversationRef, messageID string) error {
	args := m.Called(ctx, ref, messageID)
	return args.Error(0)
}
