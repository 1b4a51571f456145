package telemetry

import (
	"context"
	"strconv"

	"meetsync/internal/observability"
)

// RouteQAEvents carries Q&A socket lifecycle events.
const RouteQAEvents = "ws_events.questions"

// ConnPayload describes one websocket lifecycle event.
type ConnPayload struct {
	MeetingID  int    `json:"meeting_id"`
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	IP         string `json:"ip,omitempty"`
}

// ConnEmitter reports websocket connects, disconnects and errors.
type ConnEmitter struct {
	AuditEmitter
}

// NewConnEmitter builds a ConnEmitter. A nil publisher disables it.
func NewConnEmitter(publisher Publisher, service, environment string) *ConnEmitter {
	return &ConnEmitter{AuditEmitter: AuditEmitter{
		publisher:   publisher,
		routingKey:  RouteQAEvents,
		service:     service,
		environment: environment,
	}}
}

// Emit publishes p on behalf of userID.
func (e *ConnEmitter) Emit(ctx context.Context, requestID string, userID int, p ConnPayload) {
	if e == nil || e.publisher == nil {
		return
	}
	uid := strconv.Itoa(userID)
	if err := e.publisher.Publish(ctx, e.routingKey, e.envelope("ws_events", requestID, &uid, p)); err != nil {
		observability.IncAMQPPublishError()
		observability.Component("ws").WithError(err).Warn("ws event publish failed")
	}
}
