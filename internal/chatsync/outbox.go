package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meetsync/internal/backoff"
	"meetsync/internal/models"
	"meetsync/internal/observability"
	"meetsync/internal/storage"
	"meetsync/internal/transport"
)

const (
	// SendDelay paces the loop between sends and while idle.
	SendDelay = 200 * time.Millisecond
	// MinThrottleDelay is the shortest reschedule while the send class is throttled.
	MinThrottleDelay = 800 * time.Millisecond

	sendInFlightKey = "send"
	outboxStoreKey  = "outbox"
)

// Sender delivers one outbox entry and returns the server's copy.
type Sender interface {
	SendMessage(ctx context.Context, entry models.OutboxEntry) (models.Message, error)
}

// Observer is told what happened to each delivery attempt.
type Observer interface {
	Confirmed(entry models.OutboxEntry, msg models.Message)
	Throttled(entry models.OutboxEntry, until time.Time)
	Dropped(entry models.OutboxEntry, err error)
}

type noopObserver struct{}

func (noopObserver) Confirmed(models.OutboxEntry, models.Message) {}
func (noopObserver) Throttled(models.OutboxEntry, time.Time)      {}
func (noopObserver) Dropped(models.OutboxEntry, error)            {}

// Outbox sends queued messages in order, one at a time.
type Outbox struct {
	mu       sync.Mutex
	queue    []models.OutboxEntry
	sender   Sender
	timeline *Timeline
	registry *backoff.Registry
	ids      *models.TempIDs
	observer Observer
	store    storage.Store
	me       string
	wake     chan struct{}
	log      *logrus.Entry
}

// OutboxOption customizes an Outbox.
type OutboxOption func(*Outbox)

// WithObserver receives delivery events.
func WithObserver(o Observer) OutboxOption {
	return func(ob *Outbox) { ob.observer = o }
}

// WithStore persists the queue so unsent messages survive a restart.
func WithStore(s storage.Store) OutboxOption {
	return func(ob *Outbox) { ob.store = s }
}

// NewOutbox builds an Outbox for user me.
func NewOutbox(sender Sender, timeline *Timeline, registry *backoff.Registry, me string, opts ...OutboxOption) *Outbox {
	ob := &Outbox{
		sender:   sender,
		timeline: timeline,
		registry: registry,
		ids:      models.NewTempIDs(registry.Now),
		observer: noopObserver{},
		me:       me,
		wake:     make(chan struct{}, 1),
		log:      observability.Component("outbox"),
	}
	for _, opt := range opts {
		opt(ob)
	}
	return ob
}

// Enqueue shows body optimistically in ref and queues it for delivery.
func (o *Outbox) Enqueue(ctx context.Context, ref models.ConversationRef, body string) (models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, errors.New("empty message")
	}
	now := o.registry.Now()
	tempID := o.ids.Next()
	msg := models.NewPending(tempID, ref, o.me, body, now)
	o.timeline.Append(msg)
	o.push(ctx, models.OutboxEntry{
		Kind:           ref.Kind,
		ConversationID: ref.ID,
		Body:           body,
		TempID:         tempID,
		EnqueuedAt:     now,
	})
	return msg, nil
}

// Retry re-queues a message whose delivery was abandoned.
func (o *Outbox) Retry(ctx context.Context, ref models.ConversationRef, tempID string) error {
	m, ok := o.timeline.Find(ref, tempID)
	if !ok {
		return ErrMessageNotFound
	}
	if m.State != models.StateFailed {
		return fmt.Errorf("message %s is %s, not failed", tempID, m.State)
	}
	if _, err := o.timeline.SetState(ref, tempID, models.StatePending); err != nil {
		return err
	}
	o.push(ctx, models.OutboxEntry{
		Kind:           ref.Kind,
		ConversationID: ref.ID,
		Body:           m.Body,
		TempID:         tempID,
		EnqueuedAt:     o.registry.Now(),
	})
	return nil
}

func (o *Outbox) push(ctx context.Context, e models.OutboxEntry) {
	o.mu.Lock()
	o.queue = append(o.queue, e)
	n := len(o.queue)
	o.mu.Unlock()
	observability.SetOutboxDepth(n)
	o.persist(ctx)
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Pending returns a copy of the queue, head first.
func (o *Outbox) Pending() []models.OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.OutboxEntry, len(o.queue))
	copy(out, o.queue)
	return out
}

func (o *Outbox) head() (models.OutboxEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return models.OutboxEntry{}, false
	}
	return o.queue[0], true
}

func (o *Outbox) pop(ctx context.Context, tempID string) {
	o.mu.Lock()
	if len(o.queue) > 0 && o.queue[0].TempID == tempID {
		o.queue = o.queue[1:]
	}
	n := len(o.queue)
	o.mu.Unlock()
	observability.SetOutboxDepth(n)
	o.persist(ctx)
}

func (o *Outbox) bumpAttempts(tempID string) models.OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) > 0 && o.queue[0].TempID == tempID {
		o.queue[0].Attempts++
		return o.queue[0]
	}
	return models.OutboxEntry{TempID: tempID}
}

// Tick runs one step of the send loop and returns how long to wait before the next.
func (o *Outbox) Tick(ctx context.Context) time.Duration {
	if !o.registry.TryAcquire(sendInFlightKey) {
		return SendDelay
	}
	defer o.registry.Release(sendInFlightKey)

	entry, ok := o.head()
	if !ok {
		return SendDelay
	}
	if left := o.registry.Remaining(backoff.ClassSend); left > 0 {
		return max(left, MinThrottleDelay)
	}

	msg, err := o.sender.SendMessage(ctx, entry)
	switch {
	case err == nil:
		confirmed, cerr := o.timeline.Confirm(entry.Ref(), entry.TempID, msg)
		if cerr != nil {
			// the optimistic copy is gone (e.g. restored queue); show the server copy anyway
			confirmed = msg
			confirmed.TempID = entry.TempID
			o.timeline.Append(confirmed)
		}
		o.pop(ctx, entry.TempID)
		observability.IncOutboxResult("confirmed")
		o.observer.Confirmed(entry, confirmed)
		return SendDelay

	case transport.IsThrottle(err):
		entry = o.bumpAttempts(entry.TempID)
		until, _ := o.registry.Until(backoff.ClassSend)
		observability.IncOutboxResult("throttled")
		o.observer.Throttled(entry, until)
		return max(o.registry.Remaining(backoff.ClassSend), MinThrottleDelay)

	case ctx.Err() != nil:
		// shutting down; the entry stays queued
		return SendDelay

	default:
		o.pop(ctx, entry.TempID)
		if _, serr := o.timeline.SetState(entry.Ref(), entry.TempID, models.StateFailed); serr != nil {
			o.log.WithField("temp_id", entry.TempID).Debug("dropped entry has no visible message")
		}
		o.log.WithFields(logrus.Fields{
			"conversation": entry.Ref().String(),
			"temp_id":      entry.TempID,
		}).WithError(err).Warn("send failed, dropping from outbox")
		observability.IncOutboxResult("dropped")
		o.observer.Dropped(entry, err)
		return SendDelay
	}
}

// Run drives Tick until ctx is cancelled. Enqueue wakes an idle loop early.
func (o *Outbox) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-o.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(o.Tick(ctx))
	}
}

// Drain runs the loop until the queue is empty or ctx ends.
func (o *Outbox) Drain(ctx context.Context) error {
	for o.Len() > 0 {
		d := o.Tick(ctx)
		if o.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return nil
}

func (o *Outbox) persist(ctx context.Context) {
	if o.store == nil {
		return
	}
	data, err := json.Marshal(o.Pending())
	if err == nil {
		err = o.store.Set(context.WithoutCancel(ctx), outboxStoreKey, string(data))
	}
	if err != nil {
		o.log.WithError(err).Warn("persist outbox")
	}
}

// Restore reloads a persisted queue and shows its entries as pending messages.
func (o *Outbox) Restore(ctx context.Context) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	raw, ok, err := o.store.Get(ctx, outboxStoreKey)
	if err != nil || !ok || raw == "" {
		return 0, err
	}
	var entries []models.OutboxEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return 0, fmt.Errorf("decode outbox: %w", err)
	}
	o.mu.Lock()
	o.queue = append(entries, o.queue...)
	n := len(o.queue)
	o.mu.Unlock()
	for _, e := range entries {
		o.timeline.Append(models.NewPending(e.TempID, e.Ref(), o.me, e.Body, e.EnqueuedAt))
	}
	observability.SetOutboxDepth(n)
	return len(entries), nil
}
