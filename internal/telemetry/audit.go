package telemetry

import (
	"context"
	"time"

	"meetsync/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Envelope wraps every event published to the exchange.
type Envelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id,omitempty"`
	UserID        *string `json:"user_id,omitempty"`
	Payload       any     `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

func (e *AuditEmitter) envelope(eventType, requestID string, userID *string, payload any) Envelope {
	return Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}
}

// Emit publishes an audit line. A nil emitter is a no-op.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	observability.Component("audit").WithField("request_id", requestID).Debugf("%s: %s", level, text)
	env := e.envelope("audit_log", requestID, userID, AuditPayload{Level: level, Text: text})
	if err := e.publisher.Publish(ctx, e.routingKey, env); err != nil {
		observability.IncAMQPPublishError()
		observability.Component("audit").WithError(err).Warn("audit publish failed")
	}
}
