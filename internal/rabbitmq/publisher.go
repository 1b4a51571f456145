package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"meetsync/internal/observability"
	"meetsync/internal/telemetry"
)

// publishTimeout bounds a single publish so a stalled broker never holds up the send loop.
const publishTimeout = 2 * time.Second

// ErrChannelClosed is returned once the broker has closed the channel.
var ErrChannelClosed = errors.New("rabbitmq: channel closed")

// Publisher publishes telemetry events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled.
func NewPublisher(amqpURL, exchange string) Publisher {
	log := observability.Component("rabbitmq")
	if amqpURL == "" {
		log.Debug("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		log.WithError(err).Warn("rabbitmq disabled, using noop")
		return noopPublisher{reason: err.Error()}
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
	go p.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	log.WithField("exchange", exchange).Info("rabbitmq connected")
	return p
}

// dial opens a channel and declares the durable topic exchange events are routed through.
func dial(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return conn, ch, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	mu     sync.RWMutex
	closed bool
}

// watch flips the publisher into the closed state when the broker drops the channel.
func (p *amqpPublisher) watch(notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if ok && amqpErr != nil {
		observability.Component("rabbitmq").WithError(amqpErr).Warn("channel closed by broker")
	}
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrChannelClosed
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if env, ok := event.(telemetry.Envelope); ok {
		msg.Type = env.EventType
		msg.AppId = env.Service
		if env.RequestID != "" {
			msg.CorrelationId = env.RequestID
			msg.Headers = amqp.Table{"x-request-id": env.RequestID}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	entry := observability.Component("rabbitmq").WithField("routing_key", routingKey)
	if env, ok := event.(telemetry.Envelope); ok {
		entry = entry.WithField("event_type", env.EventType).WithField("service", env.Service)
	}
	entry.Debug("noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why a noop publisher was chosen.
func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
