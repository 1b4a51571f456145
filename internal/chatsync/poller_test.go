package chatsync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"meetsync/internal/backoff"
	"meetsync/internal/mocks"
	"meetsync/internal/models"
	"meetsync/internal/transport"
)

var room = models.ConversationRef{Kind: models.KindGroup, ID: "1"}

func newPoller(t *testing.T, backend Fetcher, focus *Focus) (*Poller, *Timeline, *backoff.ManualClock) {
	t.Helper()
	clock := backoff.NewManualClock(base)
	reg := backoff.NewRegistry(clock.Now)
	tl := NewTimeline()
	return NewPoller(room, PollerConfig{MarkBatch: 2}, backend, tl, reg, focus, "2"), tl, clock
}

func TestPollerDefaults(t *testing.T) {
	p := NewPoller(room, PollerConfig{}, nil, NewTimeline(), backoff.NewRegistry(nil), nil, "2")
	assert.Equal(t, GroupInterval, p.cfg.Interval)
	assert.Equal(t, DefaultWindow, p.cfg.Window)
	assert.Equal(t, DefaultBatch, p.cfg.MarkBatch)

	d := NewPoller(dm, PollerConfig{}, nil, NewTimeline(), backoff.NewRegistry(nil), nil, "2")
	assert.Equal(t, DirectInterval, d.cfg.Interval)
}

func TestPollerMergesAndCountsUnread(t *testing.T) {
	backend := new(mocks.BackendMock)
	p, tl, _ := newPoller(t, backend, nil)

	local := pending("tmp-1", 10, "mine")
	tl.Append(local)

	read := confirmed("3", 2, "1", "c")
	read.IsRead = true
	page := []models.Message{confirmed("1", 0, "1", "a"), confirmed("2", 1, "2", "b"), read}
	backend.On("FetchLatest", mock.Anything, room, DefaultWindow).Return(page, nil).Once()

	var unread int
	p.OnUnread(func(_ models.ConversationRef, n int) { unread = n })

	assert.Equal(t, OutcomeOK, p.Tick(context.Background()))
	msgs := tl.Messages(room)
	require.Len(t, msgs, 4)
	assert.Equal(t, "tmp-1", msgs[3].TempID)
	assert.Equal(t, 1, unread)
	assert.Equal(t, 1, tl.Unread(room, "2"))
	backend.AssertExpectations(t)
}

func TestPollerMarksVisibleConversation(t *testing.T) {
	backend := new(mocks.BackendMock)
	focus := &Focus{}
	focus.SetVisible(room)
	p, tl, _ := newPoller(t, backend, focus)

	page := []models.Message{
		confirmed("1", 0, "1", "a"),
		confirmed("2", 1, "1", "b"),
		confirmed("3", 2, "2", "mine"),
		confirmed("4", 3, "1", "d"),
	}
	backend.On("FetchLatest", mock.Anything, room, mock.Anything).Return(page, nil)
	backend.On("MarkRead", mock.Anything, room, "1").Return(nil).Once()
	backend.On("MarkRead", mock.Anything, room, "2").Return(nil).Once()

	p.Tick(context.Background())
	assert.Equal(t, 1, tl.Unread(room, "2"))
	backend.AssertNotCalled(t, "MarkRead", mock.Anything, room, "3")

	// the next tick picks up where the batch stopped; the server still reports 1 and 2 unread
	backend.On("MarkRead", mock.Anything, room, "4").Return(nil).Once()
	p.Tick(context.Background())
	assert.Equal(t, 0, tl.Unread(room, "2"))
	backend.AssertExpectations(t)
}

func TestPollerSkipsMarkWhenNotVisible(t *testing.T) {
	backend := new(mocks.BackendMock)
	focus := &Focus{}
	focus.SetVisible(dm)
	p, tl, _ := newPoller(t, backend, focus)

	backend.On("FetchLatest", mock.Anything, room, mock.Anything).Return([]models.Message{confirmed("1", 0, "1", "a")}, nil)
	p.Tick(context.Background())
	assert.Equal(t, 1, tl.Unread(room, "2"))
	backend.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestPollerSkipsWhenHidden(t *testing.T) {
	backend := new(mocks.BackendMock)
	focus := &Focus{}
	focus.SetHidden(true)
	p, _, _ := newPoller(t, backend, focus)

	assert.Equal(t, OutcomeHidden, p.Tick(context.Background()))
	backend.AssertNotCalled(t, "FetchLatest", mock.Anything, mock.Anything, mock.Anything)
}

func TestPollerSkipsWhileInFlight(t *testing.T) {
	backend := new(mocks.BackendMock)
	p, _, _ := newPoller(t, backend, nil)

	require.True(t, p.registry.TryAcquire("poll:"+room.String()))
	assert.Equal(t, OutcomeInFlight, p.Tick(context.Background()))
	backend.AssertNotCalled(t, "FetchLatest", mock.Anything, mock.Anything, mock.Anything)
}

func TestPollerHonorsSharedBackoff(t *testing.T) {
	backend := new(mocks.BackendMock)
	p, _, clock := newPoller(t, backend, nil)

	p.registry.Throttle(backoff.ClassPoll, 10*time.Second)
	clock.Advance(9 * time.Second)
	assert.Equal(t, OutcomePaused, p.Tick(context.Background()))
	backend.AssertNotCalled(t, "FetchLatest", mock.Anything, mock.Anything, mock.Anything)

	clock.Advance(time.Second)
	backend.On("FetchLatest", mock.Anything, room, mock.Anything).Return([]models.Message{}, nil).Once()
	assert.Equal(t, OutcomeOK, p.Tick(context.Background()))
}

func TestPollerLocalPauseDoublesAndResets(t *testing.T) {
	backend := new(mocks.BackendMock)
	p, _, clock := newPoller(t, backend, nil)
	ctx := context.Background()
	throttle := error(&transport.ThrottleError{Class: backoff.ClassPoll})

	backend.On("FetchLatest", mock.Anything, room, mock.Anything).Return(nil, throttle).Times(5)

	want := []time.Duration{8 * time.Second, 16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, w := range want {
		assert.Equal(t, OutcomeThrottled, p.Tick(ctx), "round %d", i)
		assert.Equal(t, w, p.PausedFor(), "round %d", i)
		assert.Equal(t, OutcomePaused, p.Tick(ctx))
		clock.Advance(w)
	}

	backend.On("FetchLatest", mock.Anything, room, mock.Anything).Return([]models.Message{}, nil).Once()
	assert.Equal(t, OutcomeOK, p.Tick(ctx))
	backend.On("FetchLatest", mock.Anything, room, mock.Anything).Return(nil, throttle).Once()
	p.Tick(ctx)
	assert.Equal(t, 8*time.Second, p.PausedFor())
}

func TestPollerKeepsStateOnError(t *testing.T) {
	backend := new(mocks.BackendMock)
	p, tl, _ := newPoller(t, backend, nil)
	ctx := context.Background()

	backend.On("FetchLatest", mock.Anything, room, mock.Anything).Return([]models.Message{confirmed("1", 0, "1", "a")}, nil).Once()
	p.Tick(ctx)
	backend.On("FetchLatest", mock.Anything, room, mock.Anything).Return(nil, assert.AnError).Once()
	assert.Equal(t, OutcomeError, p.Tick(ctx))

	require.Len(t, tl.Messages(room), 1)
	assert.Zero(t, p.PausedFor())
}

func TestMergePageKeepsNewerLocalAndReadFlags(t *testing.T) {
	older := confirmed("1", 0, "1", "a")
	older.IsRead = true
	newer := confirmed("9", 30, "2", "just sent")
	failed := pending("tmp-3", 5, "lost")
	failed.State = models.StateFailed
	stale := confirmed("0", -10, "1", "fell out of window")

	server := []models.Message{confirmed("1", 0, "1", "a"), confirmed("2", 10, "1", "b")}
	merged := mergePage(server, []models.Message{stale, older, failed, newer})

	require.Len(t, merged, 4)
	assert.Equal(t, "1", merged[0].ID)
	assert.True(t, merged[0].IsRead)
	assert.Equal(t, "tmp-3", merged[1].TempID)
	assert.Equal(t, "2", merged[2].ID)
	assert.Equal(t, "9", merged[3].ID)
}

type countingFetcher struct {
	fetches atomic.Int32
}

func (c *countingFetcher) FetchLatest(context.Context, models.ConversationRef, int) ([]models.Message, error) {
	c.fetches.Add(1)
	return nil, nil
}

func (c *countingFetcher) MarkRead(context.Context, models.ConversationRef, string) error {
	return nil
}

func TestSchedulerStartsAndStops(t *testing.T) {
	fetcher := &countingFetcher{}
	tl := NewTimeline()
	reg := backoff.NewRegistry(nil)

	built := 0
	s := NewScheduler(func(ref models.ConversationRef) *Poller {
		built++
		return NewPoller(ref, PollerConfig{Interval: time.Hour}, fetcher, tl, reg, nil, "2")
	})

	ctx := context.Background()
	s.Watch(ctx, room)
	s.Watch(ctx, room)
	s.Watch(ctx, dm)
	assert.Equal(t, 2, built)
	assert.Len(t, s.Watching(), 2)

	// each poller ticks once on start
	assert.Eventually(t, func() bool { return fetcher.fetches.Load() == 2 }, time.Second, 5*time.Millisecond)

	s.Unwatch(room)
	assert.Equal(t, []models.ConversationRef{dm}, s.Watching())
	s.StopAll()
	assert.Empty(t, s.Watching())
}

func TestHandleStopEndsGoroutine(t *testing.T) {
	fetcher := &countingFetcher{}
	p := NewPoller(room, PollerConfig{Interval: 5 * time.Millisecond}, fetcher, NewTimeline(), backoff.NewRegistry(nil), nil, "2")

	h := p.Start(context.Background())
	assert.Eventually(t, func() bool { return fetcher.fetches.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()

	select {
	case <-h.Done():
	default:
		t.Fatal("poller still running after Stop")
	}
	after := fetcher.fetches.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, fetcher.fetches.Load())
}
