package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"meetsync/internal/models"
)

// ConversationRepository answers who may use a conversation.
// A conversation without any recorded members is open to every authenticated user.
type ConversationRepository interface {
	CanAccess(ctx context.Context, kind models.Kind, conversationID int, userID int) (bool, error)
	AddMember(ctx context.Context, kind models.Kind, conversationID int, userID int) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CanAccess checks membership.
func (r *ConversationRepo) CanAccess(ctx context.Context, kind models.Kind, conversationID int, userID int) (bool, error) {
	var res struct {
		Members  int  `db:"members"`
		IsMember bool `db:"is_member"`
	}
	err := r.db.GetContext(ctx, &res, `SELECT COUNT(*) AS members, COALESCE(BOOL_OR(user_id = $3), FALSE) AS is_member
        FROM conversation_members WHERE kind=$1 AND conversation_id=$2`, kind, conversationID, userID)
	if err != nil {
		return false, err
	}
	return res.Members == 0 || res.IsMember, nil
}

// AddMember adds userID to the conversation.
func (r *ConversationRepo) AddMember(ctx context.Context, kind models.Kind, conversationID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_members (kind, conversation_id, user_id) VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING`, kind, conversationID, userID)
	return err
}
