package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetsync/internal/backoff"
	"meetsync/internal/models"
	"meetsync/internal/transport"
)

func newBackend(t *testing.T, pagination string, h http.Handler) *Backend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := transport.NewClient(srv.URL, transport.TokenFunc(func() string { return "tok" }), backoff.NewRegistry(nil))
	return NewBackend(client, pagination, nil)
}

func rows(from, to int) []map[string]any {
	var out []map[string]any
	for i := from; i <= to; i++ {
		out = append(out, map[string]any{
			"id":         i,
			"sender_id":  1,
			"content":    fmt.Sprintf("m%d", i),
			"created_at": fmt.Sprintf("2024-05-01T12:00:%02dZ", i%60),
		})
	}
	return out
}

func TestFetchLatestOffsetFetchesTail(t *testing.T) {
	var mu sync.Mutex
	var offsets []string
	b := newBackend(t, PaginateOffset, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/groups/3/messages", r.URL.Path)
		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		mu.Unlock()
		off, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		_ = json.NewEncoder(w).Encode(map[string]any{"count": 12, "messages": rows(off+1, min(off+10, 12))})
	}))

	msgs, err := b.FetchLatest(context.Background(), models.ConversationRef{Kind: models.KindGroup, ID: "3"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "2"}, offsets)
	require.Len(t, msgs, 10)
	assert.Equal(t, "3", msgs[0].ID)
	assert.Equal(t, "12", msgs[9].ID)
	assert.Equal(t, "3", msgs[0].ConversationID)
	assert.Equal(t, models.KindGroup, msgs[0].Kind)
}

func TestFetchLatestPagedTopsUpShortLastPage(t *testing.T) {
	b := newBackend(t, PaginatePage, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		from := (p-1)*size + 1
		_ = json.NewEncoder(w).Encode(map[string]any{"count": 12, "results": rows(from, min(from+size-1, 12))})
	}))

	msgs, err := b.FetchLatest(context.Background(), models.ConversationRef{Kind: models.KindDirect, ID: "9"}, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "8", msgs[0].ID)
	assert.Equal(t, "12", msgs[4].ID)
}

func TestSendMessage(t *testing.T) {
	b := newBackend(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chats/7/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42,"content":"hello","sender":{"id":2},"created_at":"2024-05-01T12:00:00Z"}`))
	}))

	msg, err := b.SendMessage(context.Background(), models.OutboxEntry{Kind: models.KindDirect, ConversationID: "7", Body: "hello", TempID: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, "42", msg.ID)
	assert.Equal(t, "2", msg.SenderID)
	assert.Equal(t, "7", msg.ConversationID)
	assert.Equal(t, models.StateConfirmed, msg.State)
}

func TestMarkRead(t *testing.T) {
	var path string
	b := newBackend(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, b.MarkRead(context.Background(), models.ConversationRef{Kind: models.KindGroup, ID: "3"}, "55"))
	assert.Equal(t, "/groups/3/messages/55/read/", path)
}

func TestVideoTokenFallsThroughCandidates(t *testing.T) {
	var tried []string
	b := newBackend(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tried = append(tried, r.URL.Path)
		if r.URL.Path == "/meetings/5/video-token/" {
			_, _ = w.Write([]byte(`{"token":"rtc","room":"meeting-5"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	tok, err := b.VideoToken(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "rtc", tok.Token)
	assert.Equal(t, "meeting-5", tok.RoomName)
	assert.Equal(t, []string{"/meetings/5/token/", "/meetings/5/video-token/"}, tried)
}

func TestVideoTokenThrottleAborts(t *testing.T) {
	hits := 0
	b := newBackend(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := b.VideoToken(context.Background(), "5")
	assert.True(t, transport.IsThrottle(err))
	assert.Equal(t, 1, hits)
}

func TestVideoTokenAllFail(t *testing.T) {
	b := newBackend(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	_, err := b.VideoToken(context.Background(), "5")
	assert.ErrorIs(t, err, ErrNoVideoToken)
}
