package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"

	"meetsync/internal/models"
)

var (
	EventTypeKeys  = []string{"type", "event", "action"}
	UpvoteKeys     = []string{"upvotes", "votes", "upvote_count", "score"}
	QuestionIDKeys = []string{"question_id", "questionId", "id"}
	ErrorKeys      = []string{"error", "detail", "message"}
)

// Int returns the first present key as an integer.
func Int(raw map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if n, ok := toInt(raw[k]); ok {
			return n, true
		}
	}
	return 0, false
}

// Question converts a raw question object.
func Question(raw map[string]any) models.Question {
	q := models.Question{
		Content:   String(raw, BodyKeys...),
		CreatedAt: Time(raw, TimestampKeys...),
	}
	q.ID, _ = Int(raw, IDKeys...)
	q.MeetingID, _ = Int(raw, "meeting_id", "meeting", "room_id")
	q.Upvotes, _ = Int(raw, UpvoteKeys...)
	if author := String(raw, append([]string{"author_id", "author"}, SenderKeys...)...); author != "" {
		q.AuthorID, _ = strconv.Atoi(author)
	}
	return q
}

// QAEvent decodes one server frame of the live Q&A channel. Frames without a type are
// classified by shape: an error field makes an error, question content makes a question.
func QAEvent(raw json.RawMessage) (models.QAEvent, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.QAEvent{}, fmt.Errorf("decode qa frame: %w", err)
	}

	ev := models.QAEvent{Type: String(obj, EventTypeKeys...)}
	if inner, ok := obj["question"].(map[string]any); ok {
		q := Question(inner)
		ev.Question = &q
	}
	if ev.Type == "" {
		switch {
		case obj["error"] != nil || obj["detail"] != nil:
			ev.Type = models.QAEventError
		case ev.Question != nil || String(obj, BodyKeys...) != "":
			ev.Type = models.QAEventQuestion
		}
	}

	switch ev.Type {
	case models.QAEventQuestion, "new_question", "question_created":
		ev.Type = models.QAEventQuestion
		if ev.Question == nil {
			q := Question(obj)
			ev.Question = &q
		}
		ev.QuestionID = ev.Question.ID
		ev.Upvotes = ev.Question.Upvotes
	case models.QAEventUpvote, "upvoted", "vote":
		ev.Type = models.QAEventUpvote
		ev.QuestionID, _ = Int(obj, QuestionIDKeys...)
		ev.Upvotes, _ = Int(obj, UpvoteKeys...)
		if ev.Question != nil {
			if ev.QuestionID == 0 {
				ev.QuestionID = ev.Question.ID
			}
			if ev.Upvotes == 0 {
				ev.Upvotes = ev.Question.Upvotes
			}
		}
	case models.QAEventError:
		ev.Error = String(obj, ErrorKeys...)
	}
	return ev, nil
}
