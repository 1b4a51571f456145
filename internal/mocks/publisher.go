package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// PublishedEvent is one event handed to PublisherMock.
type PublishedEvent struct {
	RoutingKey string
	Event      any
}

// PublisherMock stands in for the broker. Expectations go through mock.Mock; every publish
// is also recorded so tests can inspect payloads in order.
type PublisherMock struct {
	mock.Mock

	mu     sync.Mutex
	events []PublishedEvent
}

// AcceptAll lets every publish succeed.
func (m *PublisherMock) AcceptAll() *PublisherMock {
	m.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return m
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	m.mu.Lock()
	m.events = append(m.events, PublishedEvent{RoutingKey: routingKey, Event: event})
	m.mu.Unlock()
	return m.Called(ctx, routingKey, event).Error(0)
}

// Published returns the recorded events, filtered by routing key when one is given.
func (m *PublisherMock) Published(routingKeys ...string) []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(routingKeys) == 0 {
		return append([]PublishedEvent(nil), m.events...)
	}
	var out []PublishedEvent
	for _, e := range m.events {
		for _, k := range routingKeys {
			if e.RoutingKey == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}
