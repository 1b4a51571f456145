package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetsync/internal/middleware"
	"meetsync/internal/models"
	"meetsync/internal/qa"
	"meetsync/internal/repositories"
)

func TestHubAddAndRemove(t *testing.T) {
	hub := NewHub(nil)

	hub.Add(1, nil, ConnInfo{UserID: 3})
	assert.Equal(t, 1, hub.Size(1))
	hub.Broadcast(1, models.QAEvent{Type: models.QAEventQuestion})

	hub.Remove(1, nil)
	assert.Equal(t, 0, hub.Size(1))
	assert.Empty(t, hub.rooms)
}

func setupQAServer(t *testing.T) (*httptest.Server, *middleware.Tokens, *repositories.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens := middleware.NewTokens("secret", time.Hour)
	repo := repositories.NewMemory()
	handler := NewQAWebSocketHandler(NewHub(nil), repo, tokens, nil)

	r := gin.New()
	r.GET("/ws/meetings/:id/questions", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tokens, repo
}

func next(t *testing.T, c *qa.Client) models.QAEvent {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "connection closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.QAEvent{}
	}
}

func TestQASocketBroadcastsQuestionsAndUpvotes(t *testing.T) {
	srv, tokens, repo := setupQAServer(t)
	ctx := context.Background()
	_, err := repo.CreateQuestion(ctx, 4, 9, "asked earlier")
	require.NoError(t, err)

	aliceTok, _ := tokens.Issue(1)
	bobTok, _ := tokens.Issue(2)
	url := srv.URL + "/ws/meetings/4/questions"

	alice, err := qa.Dial(ctx, url, aliceTok)
	require.NoError(t, err)
	defer alice.Close()
	replay := next(t, alice)
	require.Equal(t, models.QAEventQuestion, replay.Type)
	assert.Equal(t, "asked earlier", replay.Question.Content)

	bob, err := qa.Dial(ctx, url, bobTok)
	require.NoError(t, err)
	defer bob.Close()
	next(t, bob)

	require.NoError(t, alice.Submit("what is the agenda?"))
	for _, c := range []*qa.Client{alice, bob} {
		ev := next(t, c)
		require.Equal(t, models.QAEventQuestion, ev.Type)
		assert.Equal(t, "what is the agenda?", ev.Question.Content)
		assert.Equal(t, 1, ev.Question.AuthorID)
	}

	require.NoError(t, bob.Upvote(replay.QuestionID))
	for _, c := range []*qa.Client{alice, bob} {
		ev := next(t, c)
		require.Equal(t, models.QAEventUpvote, ev.Type)
		assert.Equal(t, replay.QuestionID, ev.QuestionID)
		assert.Equal(t, 1, ev.Upvotes)
	}

	require.NoError(t, bob.Upvote(replay.QuestionID))
	ev := next(t, bob)
	assert.Equal(t, models.QAEventError, ev.Type)
	assert.Equal(t, "already upvoted", ev.Error)
}

func TestQASocketRejectsBadFrames(t *testing.T) {
	srv, tokens, _ := setupQAServer(t)
	tok, _ := tokens.Issue(1)

	c, err := qa.Dial(context.Background(), srv.URL+"/ws/meetings/2/questions", tok)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Submit(strings.Repeat("x", maxQuestionLength+1)))
	ev := next(t, c)
	assert.Equal(t, models.QAEventError, ev.Type)
	assert.Equal(t, "question too long", ev.Error)

	require.NoError(t, c.Upvote(99))
	ev = next(t, c)
	assert.Equal(t, "question not found", ev.Error)
}

func TestQASocketRequiresToken(t *testing.T) {
	srv, _, _ := setupQAServer(t)

	_, err := qa.Dial(context.Background(), srv.URL+"/ws/meetings/2/questions", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestQAClientCloseEndsEvents(t *testing.T) {
	srv, tokens, _ := setupQAServer(t)
	tok, _ := tokens.Issue(1)

	c, err := qa.Dial(context.Background(), srv.URL+"/ws/meetings/2/questions", tok)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("read loop did not stop")
	}
	assert.ErrorIs(t, c.Submit("late"), qa.ErrClosed)
}
