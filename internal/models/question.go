package models

import "time"

// Question is a live meeting question.
type Question struct {
	ID        int       `db:"id" json:"id"`
	MeetingID int       `db:"meeting_id" json:"meeting_id"`
	AuthorID  int       `db:"author_id" json:"author_id"`
	Content   string    `db:"content" json:"content"`
	Upvotes   int       `db:"upvotes" json:"upvotes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// QAEvent is broadcast over the meeting Q&A websocket.
type QAEvent struct {
	Type       string    `json:"type"`
	Question   *Question `json:"question,omitempty"`
	QuestionID int       `json:"question_id,omitempty"`
	Upvotes    int       `json:"upvotes,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// QAFrame is what clients send: {content} to ask or {action:"upvote", question_id} to vote.
type QAFrame struct {
	Content    string `json:"content,omitempty"`
	Action     string `json:"action,omitempty"`
	QuestionID int    `json:"question_id,omitempty"`
}

const (
	QAEventQuestion = "question"
	QAEventUpvote   = "upvote"
	QAEventError    = "error"
	QAActionUpvote  = "upvote"
)
