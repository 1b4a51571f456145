package telemetry

import (
	"context"
	"time"

	"meetsync/internal/models"
	"meetsync/internal/observability"
)

// Routing keys for delivery events.
const (
	RouteDeliveryConfirmed = "delivery.confirmed"
	RouteDeliveryThrottled = "delivery.throttled"
	RouteDeliveryDropped   = "delivery.dropped"
)

// DeliveryPayload describes one outbox attempt.
type DeliveryPayload struct {
	Conversation string `json:"conversation"`
	TempID       string `json:"temp_id"`
	MessageID    string `json:"message_id,omitempty"`
	Attempts     int    `json:"attempts"`
	RetryAt      string `json:"retry_at,omitempty"`
	Error        string `json:"error,omitempty"`
}

// DeliveryEmitter reports outbox results to the exchange. It satisfies chatsync.Observer.
type DeliveryEmitter struct {
	AuditEmitter
	userID *string
}

// NewDeliveryEmitter builds an emitter tagging events with userID ("" for none).
func NewDeliveryEmitter(publisher Publisher, service, environment, userID string) *DeliveryEmitter {
	e := &DeliveryEmitter{AuditEmitter: AuditEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
	}}
	if userID != "" {
		e.userID = &userID
	}
	return e
}

func (e *DeliveryEmitter) publish(routingKey, eventType string, p DeliveryPayload) {
	if e == nil || e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.publisher.Publish(ctx, routingKey, e.envelope(eventType, "", e.userID, p)); err != nil {
		observability.IncAMQPPublishError()
		observability.Component("delivery").WithError(err).Warn("delivery event publish failed")
	}
}

func (e *DeliveryEmitter) Confirmed(entry models.OutboxEntry, msg models.Message) {
	e.publish(RouteDeliveryConfirmed, "message_confirmed", DeliveryPayload{
		Conversation: entry.Ref().String(),
		TempID:       entry.TempID,
		MessageID:    msg.ID,
		Attempts:     entry.Attempts + 1,
	})
}

func (e *DeliveryEmitter) Throttled(entry models.OutboxEntry, until time.Time) {
	p := DeliveryPayload{
		Conversation: entry.Ref().String(),
		TempID:       entry.TempID,
		Attempts:     entry.Attempts,
	}
	if !until.IsZero() {
		p.RetryAt = until.UTC().Format(time.RFC3339Nano)
	}
	e.publish(RouteDeliveryThrottled, "message_throttled", p)
}

func (e *DeliveryEmitter) Dropped(entry models.OutboxEntry, err error) {
	p := DeliveryPayload{
		Conversation: entry.Ref().String(),
		TempID:       entry.TempID,
		Attempts:     entry.Attempts + 1,
	}
	if err != nil {
		p.Error = err.Error()
	}
	e.publish(RouteDeliveryDropped, "message_dropped", p)
}
