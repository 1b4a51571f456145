package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"meetsync/internal/models"
)

type convKey struct {
	kind models.Kind
	id   int
}

// Memory implements every repository in process memory. It backs `meetsync serve`
// when no database is configured and the handler tests.
type Memory struct {
	mu        sync.RWMutex
	nextMsg   int
	nextQ     int
	messages  map[convKey][]models.Record
	reads     map[int]map[int]bool
	members   map[convKey]map[int]bool
	questions map[int][]models.Question
	votes     map[int]map[int]bool
	now       func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages:  make(map[convKey][]models.Record),
		reads:     make(map[int]map[int]bool),
		members:   make(map[convKey]map[int]bool),
		questions: make(map[int][]models.Question),
		votes:     make(map[int]map[int]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateMessage appends a message.
func (m *Memory) CreateMessage(_ context.Context, kind models.Kind, conversationID int, senderID int, content string) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsg++
	rec := models.Record{
		ID:             m.nextMsg,
		Kind:           kind,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      m.now(),
	}
	k := convKey{kind, conversationID}
	m.messages[k] = append(m.messages[k], rec)
	return rec, nil
}

// ListMessages returns one page.
func (m *Memory) ListMessages(_ context.Context, kind models.Kind, conversationID int, viewerID int, limit, offset int) ([]models.Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[convKey{kind, conversationID}]
	total := len(all)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	out := make([]models.Record, 0, end-offset)
	for _, rec := range all[offset:end] {
		rec.IsRead = m.reads[rec.ID][viewerID]
		out = append(out, rec)
	}
	return out, total, nil
}

// MarkRead records a read receipt.
func (m *Memory) MarkRead(_ context.Context, kind models.Kind, conversationID int, messageID int, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.messages[convKey{kind, conversationID}] {
		if rec.ID == messageID {
			if m.reads[messageID] == nil {
				m.reads[messageID] = make(map[int]bool)
			}
			m.reads[messageID][userID] = true
			return nil
		}
	}
	return ErrMessageNotFound
}

// CanAccess allows members, or anyone when the conversation has no members.
func (m *Memory) CanAccess(_ context.Context, kind models.Kind, conversationID int, userID int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.members[convKey{kind, conversationID}]
	return len(members) == 0 || members[userID], nil
}

// AddMember adds a member.
func (m *Memory) AddMember(_ context.Context, kind models.Kind, conversationID int, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := convKey{kind, conversationID}
	if m.members[k] == nil {
		m.members[k] = make(map[int]bool)
	}
	m.members[k][userID] = true
	return nil
}

// CreateQuestion stores a question.
func (m *Memory) CreateQuestion(_ context.Context, meetingID int, authorID int, content string) (models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextQ++
	q := models.Question{ID: m.nextQ, MeetingID: meetingID, AuthorID: authorID, Content: content, CreatedAt: m.now()}
	m.questions[meetingID] = append(m.questions[meetingID], q)
	return q, nil
}

// Upvote counts one vote per user.
func (m *Memory) Upvote(_ context.Context, meetingID int, questionID int, userID int) (models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.questions[meetingID] {
		if q.ID != questionID {
			continue
		}
		if m.votes[questionID][userID] {
			return q, ErrAlreadyUpvoted
		}
		if m.votes[questionID] == nil {
			m.votes[questionID] = make(map[int]bool)
		}
		m.votes[questionID][userID] = true
		m.questions[meetingID][i].Upvotes++
		return m.questions[meetingID][i], nil
	}
	return models.Question{}, ErrQuestionNotFound
}

// ListQuestions returns a meeting's questions, most voted first.
func (m *Memory) ListQuestions(_ context.Context, meetingID int) ([]models.Question, error) {
	m.mu.RLock()
	out := make([]models.Question, len(m.questions[meetingID]))
	copy(out, m.questions[meetingID])
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Upvotes > out[j].Upvotes })
	return out, nil
}

var (
	_ MessageRepository      = (*Memory)(nil)
	_ ConversationRepository = (*Memory)(nil)
	_ QuestionRepository     = (*Memory)(nil)
	_ MessageRepository      = (*MessageRepo)(nil)
	_ ConversationRepository = (*ConversationRepo)(nil)
	_ QuestionRepository     = (*QuestionRepo)(nil)
)
