package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetsync/internal/api"
	"meetsync/internal/backoff"
	"meetsync/internal/chatsync"
	"meetsync/internal/config"
	"meetsync/internal/models"
	"meetsync/internal/session"
	"meetsync/internal/storage"
	"meetsync/internal/transport"
)

type user struct {
	backend  *api.Backend
	registry *backoff.Registry
	me       string
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.Users = []string{"alice:pw", "bob:pw"}
	cfg.Server.RatePerSecond = 1000
	cfg.Server.RateBurst = 1000
	return cfg
}

func startServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(NewRouter(cfg, MemoryDeps(cfg.Server.Users)))
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, baseURL, name string) user {
	t.Helper()
	ctx := context.Background()
	sess := session.New(storage.NewMemory(), storage.NewMemory())
	registry := backoff.NewRegistry(nil)
	client := transport.NewClient(baseURL, transport.TokenFunc(sess.BearerToken), registry)
	backend := api.NewBackend(client, api.PaginateOffset, nil)

	tok, err := backend.Login(ctx, name, "pw")
	require.NoError(t, err)
	require.NoError(t, sess.SaveToken(ctx, tok, true))
	me, err := sess.Me(ctx)
	require.NoError(t, err)
	return user{backend: backend, registry: registry, me: me}
}

func TestSendPollAndMarkReadAgainstReferenceBackend(t *testing.T) {
	srv := startServer(t, testConfig())
	ctx := context.Background()
	alice := login(t, srv.URL, "alice")
	bob := login(t, srv.URL, "bob")
	require.Equal(t, "1", alice.me)
	require.Equal(t, "2", bob.me)
	ref := models.ConversationRef{Kind: models.KindGroup, ID: "7"}

	engine := chatsync.NewEngine(alice.backend, alice.registry, alice.me, chatsync.EngineConfig{})
	pending, err := engine.Outbox.Enqueue(ctx, ref, "hello bob")
	require.NoError(t, err)
	require.NoError(t, engine.Outbox.Drain(ctx))

	sent, ok := engine.Timeline.Find(ref, pending.TempID)
	require.True(t, ok)
	assert.Equal(t, models.StateConfirmed, sent.State)
	assert.NotEmpty(t, sent.ID)

	timeline := chatsync.NewTimeline()
	focus := &chatsync.Focus{}
	var unread []int
	poller := chatsync.NewPoller(ref, chatsync.PollerConfig{}, bob.backend, timeline, bob.registry, focus, bob.me)
	poller.OnUnread(func(_ models.ConversationRef, n int) { unread = append(unread, n) })

	require.Equal(t, chatsync.OutcomeOK, poller.Tick(ctx))
	msgs := timeline.Messages(ref)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, "hello bob", msgs[0].Body)

	focus.SetVisible(ref)
	require.Equal(t, chatsync.OutcomeOK, poller.Tick(ctx))
	assert.Equal(t, []int{1, 0}, unread)

	fresh, err := bob.backend.FetchLatest(ctx, ref, 10)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.True(t, fresh[0].IsRead)

	// alice's own read state is tracked separately
	forAlice, err := alice.backend.FetchLatest(ctx, ref, 10)
	require.NoError(t, err)
	assert.False(t, forAlice[0].IsRead)
}

func TestVideoTokenFallsThroughCandidates(t *testing.T) {
	srv := startServer(t, testConfig())
	alice := login(t, srv.URL, "alice")

	tok, err := alice.backend.VideoToken(context.Background(), "12")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, "meeting-12", tok.RoomName)
	assert.Equal(t, "/meetings/12/token/", tok.Source)
}

func TestRateLimitedCallsBecomeThrottleErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RatePerSecond = 0.01
	cfg.Server.RateBurst = 2
	srv := startServer(t, cfg)
	alice := login(t, srv.URL, "alice")
	ref := models.ConversationRef{Kind: models.KindDirect, ID: "3"}
	ctx := context.Background()

	_, err := alice.backend.FetchLatest(ctx, ref, 10)
	require.NoError(t, err)
	_, err = alice.backend.FetchLatest(ctx, ref, 10)
	require.NoError(t, err)

	_, err = alice.backend.FetchLatest(ctx, ref, 10)
	te, ok := transport.AsThrottle(err)
	require.True(t, ok, "want throttle, got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, te.Code())
	assert.Greater(t, te.RetryAfter, 90*time.Second)
	assert.True(t, alice.registry.Blocked(backoff.ClassPoll))
	assert.False(t, alice.registry.Blocked(backoff.ClassSend))
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	srv := startServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/groups/1/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
