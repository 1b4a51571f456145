package models

import "time"

// Record is a message row served by the reference backend.
type Record struct {
	ID             int       `db:"id" json:"id"`
	Kind           Kind      `db:"kind" json:"kind"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	IsRead         bool      `db:"is_read" json:"is_read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Membership lists who may read and write a conversation on the reference backend.
type Membership struct {
	Kind           Kind `db:"kind" json:"kind"`
	ConversationID int  `db:"conversation_id" json:"conversation_id"`
	UserID         int  `db:"user_id" json:"user_id"`
}
