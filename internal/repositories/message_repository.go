package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"meetsync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, kind models.Kind, conversationID int, senderID int, content string) (models.Record, error)
	// ListMessages returns a page in chronological order with IsRead set for viewerID, plus the total count.
	ListMessages(ctx context.Context, kind models.Kind, conversationID int, viewerID int, limit, offset int) ([]models.Record, int, error)
	MarkRead(ctx context.Context, kind models.Kind, conversationID int, messageID int, userID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message.
func (r *MessageRepo) CreateMessage(ctx context.Context, kind models.Kind, conversationID int, senderID int, content string) (models.Record, error) {
	var rec models.Record
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (kind, conversation_id, sender_id, content) VALUES ($1, $2, $3, $4)
        RETURNING id, kind, conversation_id, sender_id, content, created_at`, kind, conversationID, senderID, content).
		Scan(&rec.ID, &rec.Kind, &rec.ConversationID, &rec.SenderID, &rec.Content, &rec.CreatedAt)
	return rec, err
}

// ListMessages returns one page of a conversation.
func (r *MessageRepo) ListMessages(ctx context.Context, kind models.Kind, conversationID int, viewerID int, limit, offset int) ([]models.Record, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE kind=$1 AND conversation_id=$2`, kind, conversationID); err != nil {
		return nil, 0, err
	}

	query := `SELECT m.id, m.kind, m.conversation_id, m.sender_id, m.content, m.created_at,
            EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $3) AS is_read
        FROM messages m
        WHERE m.kind=$1 AND m.conversation_id=$2
        ORDER BY m.created_at ASC, m.id ASC
        LIMIT $4 OFFSET $5`
	var recs []models.Record
	err := r.db.SelectContext(ctx, &recs, query, kind, conversationID, viewerID, limit, offset)
	return recs, total, err
}

// MarkRead records that userID has read messageID.
func (r *MessageRepo) MarkRead(ctx context.Context, kind models.Kind, conversationID int, messageID int, userID int) error {
	var id int
	err := r.db.GetContext(ctx, &id, `SELECT id FROM messages WHERE id=$1 AND kind=$2 AND conversation_id=$3`, messageID, kind, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, messageID, userID)
	return err
}
