// Package chatsync keeps conversations in sync with the backend: the outbound outbox,
// per-conversation pollers and the reconciler that merges both paths into one timeline.
package chatsync

import (
	"errors"
	"sync"

	"meetsync/internal/models"
)

// ErrMessageNotFound is returned when a temp id is not in the timeline.
var ErrMessageNotFound = errors.New("message not found")

// ChangeFunc is called after a conversation's messages change.
type ChangeFunc func(ref models.ConversationRef, msgs []models.Message)

// Timeline holds the merged, ordered message list of every known conversation.
type Timeline struct {
	mu       sync.RWMutex
	convs    map[models.ConversationRef][]models.Message
	onChange []ChangeFunc
}

// NewTimeline returns an empty Timeline.
func NewTimeline() *Timeline {
	return &Timeline{convs: make(map[models.ConversationRef][]models.Message)}
}

// OnChange registers fn. Callbacks run outside the lock with a copy of the list.
func (t *Timeline) OnChange(fn ChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

func (t *Timeline) notify(ref models.ConversationRef) {
	t.mu.RLock()
	fns := t.onChange
	msgs := cloneMessages(t.convs[ref])
	t.mu.RUnlock()
	for _, fn := range fns {
		fn(ref, msgs)
	}
}

func cloneMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Messages returns a copy of ref's list.
func (t *Timeline) Messages(ref models.ConversationRef) []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneMessages(t.convs[ref])
}

// Refs lists every conversation that has messages.
func (t *Timeline) Refs() []models.ConversationRef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.ConversationRef, 0, len(t.convs))
	for ref := range t.convs {
		out = append(out, ref)
	}
	return out
}

// Append adds m, merging it with what is already there.
func (t *Timeline) Append(m models.Message) {
	ref := m.Ref()
	t.mu.Lock()
	t.convs[ref] = Merge(t.convs[ref], []models.Message{m})
	t.mu.Unlock()
	t.notify(ref)
}

// Update replaces ref's list with the result of fn applied to the current list.
func (t *Timeline) Update(ref models.ConversationRef, fn func([]models.Message) []models.Message) {
	t.mu.Lock()
	t.convs[ref] = fn(cloneMessages(t.convs[ref]))
	t.mu.Unlock()
	t.notify(ref)
}

// Confirm swaps the optimistic message tempID for the server copy.
func (t *Timeline) Confirm(ref models.ConversationRef, tempID string, server models.Message) (models.Message, error) {
	var confirmed models.Message
	found := false
	t.mu.Lock()
	msgs := t.convs[ref]
	rest := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if !found && m.TempID == tempID && m.LocalOnly() {
			confirmed = m.Confirm(server)
			found = true
			continue
		}
		rest = append(rest, m)
	}
	if found {
		t.convs[ref] = Merge(rest, []models.Message{confirmed})
	}
	t.mu.Unlock()
	if !found {
		return models.Message{}, ErrMessageNotFound
	}
	t.notify(ref)
	return confirmed, nil
}

// SetState changes the delivery state of a local-only message.
func (t *Timeline) SetState(ref models.ConversationRef, tempID string, state models.DeliveryState) (models.Message, error) {
	var out models.Message
	found := false
	t.mu.Lock()
	for i, m := range t.convs[ref] {
		if m.TempID == tempID && m.LocalOnly() {
			t.convs[ref][i].State = state
			out = t.convs[ref][i]
			found = true
			break
		}
	}
	t.mu.Unlock()
	if !found {
		return models.Message{}, ErrMessageNotFound
	}
	t.notify(ref)
	return out, nil
}

// Find returns the message with the given temp id.
func (t *Timeline) Find(ref models.ConversationRef, tempID string) (models.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.convs[ref] {
		if m.TempID == tempID {
			return m, true
		}
	}
	return models.Message{}, false
}

// MarkRead flips the read flag of the message with server id.
func (t *Timeline) MarkRead(ref models.ConversationRef, id string) bool {
	found := false
	t.mu.Lock()
	for i, m := range t.convs[ref] {
		if m.ID == id {
			t.convs[ref][i].IsRead = true
			found = true
			break
		}
	}
	t.mu.Unlock()
	if found {
		t.notify(ref)
	}
	return found
}

// Unread counts ref's messages not by me and not read.
func (t *Timeline) Unread(ref models.ConversationRef, me string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.UnreadCount(t.convs[ref], me)
}
