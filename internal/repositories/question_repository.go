package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"meetsync/internal/models"
)

var (
	ErrQuestionNotFound = errors.New("question not found")
	ErrAlreadyUpvoted   = errors.New("already upvoted")
)

// QuestionRepository stores live meeting questions.
type QuestionRepository interface {
	CreateQuestion(ctx context.Context, meetingID int, authorID int, content string) (models.Question, error)
	Upvote(ctx context.Context, meetingID int, questionID int, userID int) (models.Question, error)
	ListQuestions(ctx context.Context, meetingID int) ([]models.Question, error)
}

// QuestionRepo is a sqlx implementation of QuestionRepository.
type QuestionRepo struct {
	db *sqlx.DB
}

// NewQuestionRepo constructs a QuestionRepo.
func NewQuestionRepo(db *sqlx.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

const questionColumns = `id, meeting_id, author_id, content, upvotes, created_at`

// CreateQuestion inserts a question with zero votes.
func (r *QuestionRepo) CreateQuestion(ctx context.Context, meetingID int, authorID int, content string) (models.Question, error) {
	var q models.Question
	err := r.db.GetContext(ctx, &q, `INSERT INTO questions (meeting_id, author_id, content) VALUES ($1, $2, $3) RETURNING `+questionColumns,
		meetingID, authorID, content)
	return q, err
}

// Upvote counts one vote per user.
func (r *QuestionRepo) Upvote(ctx context.Context, meetingID int, questionID int, userID int) (models.Question, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Question{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO question_votes (question_id, user_id)
        SELECT id, $3 FROM questions WHERE id=$1 AND meeting_id=$2
        ON CONFLICT DO NOTHING`, questionID, meetingID, userID)
	if err != nil {
		return models.Question{}, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Question{}, err
	}

	var q models.Question
	if inserted == 0 {
		err = tx.GetContext(ctx, &q, `SELECT `+questionColumns+` FROM questions WHERE id=$1 AND meeting_id=$2`, questionID, meetingID)
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrQuestionNotFound
			return models.Question{}, err
		}
		if err == nil {
			err = ErrAlreadyUpvoted
		}
		return q, err
	}

	if err = tx.GetContext(ctx, &q, `UPDATE questions SET upvotes = upvotes + 1 WHERE id=$1 RETURNING `+questionColumns, questionID); err != nil {
		return models.Question{}, err
	}
	err = tx.Commit()
	return q, err
}

// ListQuestions returns a meeting's questions, most voted first.
func (r *QuestionRepo) ListQuestions(ctx context.Context, meetingID int) ([]models.Question, error) {
	var qs []models.Question
	err := r.db.SelectContext(ctx, &qs, `SELECT `+questionColumns+` FROM questions WHERE meeting_id=$1 ORDER BY upvotes DESC, id ASC`, meetingID)
	return qs, err
}
