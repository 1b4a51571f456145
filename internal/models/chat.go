package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes group rooms from direct (two-party) chats.
type Kind string

const (
	KindGroup  Kind = "group"
	KindDirect Kind = "direct"
)

// ParseKind accepts the wire names used by the backend and the CLI.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "group", "groups", "room":
		return KindGroup, nil
	case "direct", "dm", "chat", "chats":
		return KindDirect, nil
	default:
		return "", fmt.Errorf("unknown conversation kind %q", s)
	}
}

// ConversationRef identifies a conversation.
type ConversationRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (r ConversationRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ParseRef parses "group:12" or "direct:7".
func ParseRef(s string) (ConversationRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ConversationRef{}, fmt.Errorf("invalid conversation %q, want kind:id", s)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return ConversationRef{}, err
	}
	return ConversationRef{Kind: k, ID: id}, nil
}

// OutboxEntry is a not-yet-confirmed outbound message.
type OutboxEntry struct {
	Kind           Kind      `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Body           string    `json:"body"`
	TempID         string    `json:"temp_id"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Attempts       int       `json:"attempts"`
}

// Ref returns the target conversation.
func (e OutboxEntry) Ref() ConversationRef {
	return ConversationRef{Kind: e.Kind, ID: e.ConversationID}
}

// VideoToken holds credentials for the real-time video SDK.
type VideoToken struct {
	Token     string    `json:"token"`
	RoomName  string    `json:"room,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Source    string    `json:"-"`
}
