package models

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// DeliveryState tags a message as optimistic, server-confirmed or abandoned.
type DeliveryState int

const (
	StatePending DeliveryState = iota
	StateConfirmed
	StateFailed
)

func (s DeliveryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message represents a chat message, either a local optimistic copy or the server's copy.
type Message struct {
	ID             string        `json:"id,omitempty"`
	TempID         string        `json:"temp_id,omitempty"`
	Kind           Kind          `json:"kind"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Body           string        `json:"body"`
	CreatedAt      time.Time     `json:"created_at"`
	IsRead         bool          `json:"is_read"`
	State          DeliveryState `json:"state"`
}

// NewPending builds the optimistic copy shown before the server confirms a send.
func NewPending(tempID string, ref ConversationRef, senderID, body string, at time.Time) Message {
	return Message{
		TempID:         tempID,
		Kind:           ref.Kind,
		ConversationID: ref.ID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      at,
		IsRead:         true,
		State:          StatePending,
	}
}

// Ref returns the conversation the message belongs to.
func (m Message) Ref() ConversationRef {
	return ConversationRef{Kind: m.Kind, ID: m.ConversationID}
}

// Confirmed reports whether the message carries a server-assigned id.
func (m Message) Confirmed() bool {
	return m.State == StateConfirmed && m.ID != ""
}

// LocalOnly reports whether the message has not reached the server (pending or failed).
func (m Message) LocalOnly() bool {
	return m.State == StatePending || m.State == StateFailed
}

// DisplayID returns the server id when known, else the temporary id.
func (m Message) DisplayID() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Confirm turns the optimistic message into the server copy, keeping local fields the server omitted.
func (m Message) Confirm(server Message) Message {
	out := server
	out.TempID = m.TempID
	out.State = StateConfirmed
	if out.Kind == "" {
		out.Kind = m.Kind
	}
	if out.ConversationID == "" {
		out.ConversationID = m.ConversationID
	}
	if out.SenderID == "" {
		out.SenderID = m.SenderID
	}
	if out.Body == "" {
		out.Body = m.Body
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = m.CreatedAt
	}
	// own messages never count as unread
	out.IsRead = out.IsRead || m.IsRead
	return out
}

// UnreadCount counts messages not authored by me and not yet read.
func UnreadCount(msgs []Message, me string) int {
	n := 0
	for _, m := range msgs {
		if m.SenderID != me && !m.IsRead {
			n++
		}
	}
	return n
}

// TempIDs generates tmp-<unixMillis>-<counter> identifiers.
type TempIDs struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewTempIDs builds a generator using the given clock (time.Now when nil).
func NewTempIDs(now func() time.Time) *TempIDs {
	if now == nil {
		now = time.Now
	}
	return &TempIDs{now: now}
}

// Next returns a fresh temporary id.
func (g *TempIDs) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("tmp-%d-%d", g.now().UnixMilli(), n)
}

// IsTempID reports whether id was produced by a TempIDs generator.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, "tmp-")
}
