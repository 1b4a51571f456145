package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meetsync/internal/backoff"
	"meetsync/internal/models"
	"meetsync/internal/observability"
	"meetsync/internal/transport"
)

// Poller defaults.
const (
	GroupInterval  = 4 * time.Second
	DirectInterval = 8 * time.Second
	DefaultWindow  = 50
	DefaultBatch   = 5
	PauseBase      = 8 * time.Second
	PauseMax       = 60 * time.Second
)

// Fetcher reads a conversation and acknowledges messages.
type Fetcher interface {
	FetchLatest(ctx context.Context, ref models.ConversationRef, window int) ([]models.Message, error)
	MarkRead(ctx context.Context, ref models.ConversationRef, messageID string) error
}

// Outcome describes what a poll tick did.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeInFlight  Outcome = "in_flight"
	OutcomePaused    Outcome = "paused"
	OutcomeHidden    Outcome = "hidden"
	OutcomeThrottled Outcome = "throttled"
	OutcomeError     Outcome = "error"
)

// PollerConfig tunes a Poller. Zero fields take the defaults.
type PollerConfig struct {
	Interval  time.Duration
	Window    int
	MarkBatch int
	PauseBase time.Duration
	PauseMax  time.Duration
}

func (c PollerConfig) withDefaults(kind models.Kind) PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DirectInterval
		if kind == models.KindGroup {
			c.Interval = GroupInterval
		}
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MarkBatch <= 0 {
		c.MarkBatch = DefaultBatch
	}
	if c.PauseBase <= 0 {
		c.PauseBase = PauseBase
	}
	if c.PauseMax <= 0 {
		c.PauseMax = PauseMax
	}
	return c
}

// Focus tracks whether the client is in the foreground and which conversation is on screen.
type Focus struct {
	mu      sync.RWMutex
	hidden  bool
	visible *models.ConversationRef
}

// SetHidden marks the client as backgrounded (true) or foregrounded.
func (f *Focus) SetHidden(hidden bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = hidden
}

// Hidden reports whether polling should pause.
func (f *Focus) Hidden() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hidden
}

// SetVisible records ref as the conversation on screen.
func (f *Focus) SetVisible(ref models.ConversationRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = &ref
}

// ClearVisible records that no conversation is on screen.
func (f *Focus) ClearVisible() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = nil
}

// IsVisible reports whether ref is on screen.
func (f *Focus) IsVisible(ref models.ConversationRef) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.visible != nil && *f.visible == ref && !f.hidden
}

// UnreadFunc receives a conversation's unread count after each successful tick.
type UnreadFunc func(ref models.ConversationRef, unread int)

// Poller keeps one conversation fresh.
type Poller struct {
	ref      models.ConversationRef
	cfg      PollerConfig
	fetcher  Fetcher
	timeline *Timeline
	registry *backoff.Registry
	focus    *Focus
	me       string
	onUnread UnreadFunc
	log      *logrus.Entry

	mu         sync.Mutex
	pauseUntil time.Time
	pauseStep  time.Duration
}

// NewPoller builds a Poller for ref. focus may be nil (always visible-agnostic, never hidden).
func NewPoller(ref models.ConversationRef, cfg PollerConfig, fetcher Fetcher, timeline *Timeline, registry *backoff.Registry, focus *Focus, me string) *Poller {
	if focus == nil {
		focus = &Focus{}
	}
	return &Poller{
		ref:      ref,
		cfg:      cfg.withDefaults(ref.Kind),
		fetcher:  fetcher,
		timeline: timeline,
		registry: registry,
		focus:    focus,
		me:       me,
		log:      observability.Component("poller").WithField("conversation", ref.String()),
	}
}

// OnUnread registers the unread callback.
func (p *Poller) OnUnread(fn UnreadFunc) { p.onUnread = fn }

// Ref returns the polled conversation.
func (p *Poller) Ref() models.ConversationRef { return p.ref }

// PausedFor returns the remaining local pause.
func (p *Poller) PausedFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if left := p.pauseUntil.Sub(p.registry.Now()); left > 0 {
		return left
	}
	return 0
}

func (p *Poller) pause() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pauseStep == 0 {
		p.pauseStep = p.cfg.PauseBase
	} else {
		p.pauseStep = min(p.pauseStep*2, p.cfg.PauseMax)
	}
	p.pauseUntil = p.registry.Now().Add(p.pauseStep)
	return p.pauseStep
}

func (p *Poller) resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseStep = 0
	p.pauseUntil = time.Time{}
}

// Tick runs one poll cycle.
func (p *Poller) Tick(ctx context.Context) Outcome {
	out := p.tick(ctx)
	observability.IncPollTick(string(p.ref.Kind), string(out))
	return out
}

func (p *Poller) tick(ctx context.Context) Outcome {
	key := "poll:" + p.ref.String()
	if !p.registry.TryAcquire(key) {
		return OutcomeInFlight
	}
	defer p.registry.Release(key)

	if p.PausedFor() > 0 || p.registry.Blocked(backoff.ClassPoll) {
		return OutcomePaused
	}
	if p.focus.Hidden() {
		return OutcomeHidden
	}

	server, err := p.fetcher.FetchLatest(ctx, p.ref, p.cfg.Window)
	if err != nil {
		if transport.IsThrottle(err) {
			step := p.pause()
			p.log.WithField("pause", step).Info("poll throttled, pausing")
			return OutcomeThrottled
		}
		// keep the last known-good list; the next tick retries
		p.log.WithError(err).Warn("poll failed")
		return OutcomeError
	}
	p.resume()

	p.timeline.Update(p.ref, func(local []models.Message) []models.Message {
		return mergePage(server, local)
	})

	if p.focus.IsVisible(p.ref) {
		p.markVisible(ctx)
	}

	if p.onUnread != nil {
		p.onUnread(p.ref, p.timeline.Unread(p.ref, p.me))
	}
	return OutcomeOK
}

// mergePage folds a fresh server page into the local list. Local-only messages survive,
// as do confirmed messages newer than the page (sent after the fetch started).
// Messages already read locally stay read.
func mergePage(server, local []models.Message) []models.Message {
	var newest time.Time
	for _, m := range server {
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
	}
	read := make(map[string]bool)
	keep := make([]models.Message, 0)
	for _, m := range local {
		if m.IsRead && m.ID != "" {
			read[m.ID] = true
		}
		if m.LocalOnly() || (m.Confirmed() && m.CreatedAt.After(newest)) {
			keep = append(keep, m)
		}
	}
	merged := Merge(server, keep)
	for i := range merged {
		if read[merged[i].ID] {
			merged[i].IsRead = true
		}
	}
	return merged
}

func (p *Poller) markVisible(ctx context.Context) {
	var ids []string
	for _, m := range p.timeline.Messages(p.ref) {
		if len(ids) == p.cfg.MarkBatch {
			break
		}
		if m.Confirmed() && !m.IsRead && m.SenderID != p.me {
			ids = append(ids, m.ID)
		}
	}
	for _, id := range ids {
		if err := p.fetcher.MarkRead(ctx, p.ref, id); err != nil {
			if transport.IsThrottle(err) {
				return
			}
			p.log.WithError(err).WithField("message_id", id).Debug("mark read failed")
			continue
		}
		p.timeline.MarkRead(p.ref, id)
	}
}

// Handle cancels a running poller.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the poller and waits for its goroutine to exit.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed when the poller goroutine exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start ticks immediately and then every interval until the handle is stopped or ctx ends.
func (p *Poller) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		p.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Tick(ctx)
			}
		}
	}()
	return h
}

// Scheduler owns one running poller per conversation.
type Scheduler struct {
	mu      sync.Mutex
	handles map[models.ConversationRef]*Handle
	build   func(models.ConversationRef) *Poller
}

// NewScheduler uses build to construct pollers on demand.
func NewScheduler(build func(models.ConversationRef) *Poller) *Scheduler {
	return &Scheduler{handles: make(map[models.ConversationRef]*Handle), build: build}
}

// Watch starts polling ref unless it is already polled.
func (s *Scheduler) Watch(ctx context.Context, ref models.ConversationRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[ref]; ok {
		return
	}
	s.handles[ref] = s.build(ref).Start(ctx)
}

// Unwatch stops polling ref.
func (s *Scheduler) Unwatch(ref models.ConversationRef) {
	s.mu.Lock()
	h, ok := s.handles[ref]
	delete(s.handles, ref)
	s.mu.Unlock()
	if ok {
		h.Stop()
	}
}

// Watching lists the polled conversations.
func (s *Scheduler) Watching() []models.ConversationRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationRef, 0, len(s.handles))
	for ref := range s.handles {
		out = append(out, ref)
	}
	return out
}

// StopAll stops every poller.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[models.ConversationRef]*Handle)
	s.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
}
