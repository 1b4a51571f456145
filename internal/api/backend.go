// Package api maps backend REST endpoints onto canonical models.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meetsync/internal/backoff"
	"meetsync/internal/models"
	"meetsync/internal/normalize"
	"meetsync/internal/transport"
)

// Pagination styles understood by list endpoints.
const (
	PaginateOffset = "offset"
	PaginatePage   = "page"
)

// DefaultVideoTokenPaths are tried in order; {id} is replaced with the meeting id.
var DefaultVideoTokenPaths = []string{
	"/meetings/{id}/token/",
	"/meetings/{id}/video-token/",
	"/video/token/?meeting={id}",
}

// ErrNoVideoToken is returned when no candidate endpoint produced a token.
var ErrNoVideoToken = errors.New("no video token endpoint succeeded")

// Backend is the typed client for the chat backend.
type Backend struct {
	client     *transport.Client
	pagination string
	videoPaths []string
}

// NewBackend wraps client. An empty pagination selects limit/offset.
func NewBackend(client *transport.Client, pagination string, videoPaths []string) *Backend {
	if pagination != PaginatePage {
		pagination = PaginateOffset
	}
	if len(videoPaths) == 0 {
		videoPaths = DefaultVideoTokenPaths
	}
	return &Backend{client: client, pagination: pagination, videoPaths: videoPaths}
}

// Login exchanges credentials for a bearer token.
func (b *Backend) Login(ctx context.Context, username, password string) (string, error) {
	raw, err := b.client.Call(ctx, http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, backoff.ClassOther)
	if err != nil {
		return "", err
	}
	return normalize.Token(raw)
}

// MessagesPath returns the collection path for ref.
func MessagesPath(ref models.ConversationRef) string {
	seg := "chats"
	if ref.Kind == models.KindGroup {
		seg = "groups"
	}
	return "/" + seg + "/" + url.PathEscape(ref.ID) + "/messages"
}

// FetchLatest returns up to window of the newest messages of ref, oldest first.
func (b *Backend) FetchLatest(ctx context.Context, ref models.ConversationRef, window int) ([]models.Message, error) {
	if window <= 0 {
		window = 50
	}
	if b.pagination == PaginatePage {
		return b.fetchLatestPaged(ctx, ref, window)
	}
	return b.fetchLatestOffset(ctx, ref, window)
}

func (b *Backend) fetchLatestOffset(ctx context.Context, ref models.ConversationRef, window int) ([]models.Message, error) {
	page, err := b.list(ctx, ref, url.Values{"limit": {strconv.Itoa(window)}, "offset": {"0"}})
	if err != nil {
		return nil, err
	}
	if page.Count > window {
		page, err = b.list(ctx, ref, url.Values{
			"limit":  {strconv.Itoa(window)},
			"offset": {strconv.Itoa(page.Count - window)},
		})
		if err != nil {
			return nil, err
		}
	}
	return normalize.Messages(page.Items, ref), nil
}

func (b *Backend) fetchLatestPaged(ctx context.Context, ref models.ConversationRef, window int) ([]models.Message, error) {
	size := strconv.Itoa(window)
	page, err := b.list(ctx, ref, url.Values{"page": {"1"}, "page_size": {size}})
	if err != nil {
		return nil, err
	}
	if page.Count <= window {
		return normalize.Messages(page.Items, ref), nil
	}

	last := (page.Count + window - 1) / window
	tail, err := b.list(ctx, ref, url.Values{"page": {strconv.Itoa(last)}, "page_size": {size}})
	if err != nil {
		return nil, err
	}
	items := tail.Items
	// a short last page is topped up from the one before it
	if len(items) < window && last > 1 {
		prev, err := b.list(ctx, ref, url.Values{"page": {strconv.Itoa(last - 1)}, "page_size": {size}})
		if err != nil {
			return nil, err
		}
		items = append(prev.Items, items...)
		if len(items) > window {
			items = items[len(items)-window:]
		}
	}
	return normalize.Messages(items, ref), nil
}

func (b *Backend) list(ctx context.Context, ref models.ConversationRef, q url.Values) (normalize.Page, error) {
	raw, err := b.client.Call(ctx, http.MethodGet, MessagesPath(ref)+"?"+q.Encode(), nil, backoff.ClassPoll)
	if err != nil {
		return normalize.Page{Count: -1}, err
	}
	return normalize.DecodePage(raw)
}

// SendMessage posts entry and returns the server copy.
func (b *Backend) SendMessage(ctx context.Context, entry models.OutboxEntry) (models.Message, error) {
	ref := entry.Ref()
	raw, err := b.client.Call(ctx, http.MethodPost, MessagesPath(ref), map[string]string{"content": entry.Body}, backoff.ClassSend)
	if err != nil {
		return models.Message{}, err
	}
	if raw == nil {
		return models.Message{}, fmt.Errorf("send %s: empty response", ref)
	}
	obj, err := normalize.DecodeObject(raw)
	if err != nil {
		return models.Message{}, err
	}
	return normalize.Message(obj, ref), nil
}

// MarkRead acknowledges one message.
func (b *Backend) MarkRead(ctx context.Context, ref models.ConversationRef, messageID string) error {
	path := MessagesPath(ref) + "/" + url.PathEscape(messageID) + "/read/"
	_, err := b.client.Call(ctx, http.MethodPost, path, nil, backoff.ClassMark)
	return err
}

// VideoToken tries each candidate endpoint until one returns a token.
// A throttle aborts the search; any other failure moves on to the next candidate.
func (b *Backend) VideoToken(ctx context.Context, meetingID string) (models.VideoToken, error) {
	var lastErr error
	for _, tmpl := range b.videoPaths {
		path := strings.ReplaceAll(tmpl, "{id}", url.PathEscape(meetingID))
		raw, err := b.client.Call(ctx, http.MethodGet, path, nil, backoff.ClassOther)
		if err != nil {
			if transport.IsThrottle(err) || ctx.Err() != nil {
				return models.VideoToken{}, err
			}
			lastErr = err
			continue
		}
		obj, err := normalize.DecodeObject(raw)
		if err != nil {
			lastErr = err
			continue
		}
		tok := normalize.String(obj, normalize.TokenKeys...)
		if tok == "" {
			lastErr = fmt.Errorf("%s: no token field", path)
			continue
		}
		return models.VideoToken{
			Token:     tok,
			RoomName:  normalize.String(obj, "room", "room_name", "channel"),
			ExpiresAt: normalize.Time(obj, "expires_at", "exp"),
			Source:    path,
		}, nil
	}
	if lastErr == nil {
		return models.VideoToken{}, ErrNoVideoToken
	}
	return models.VideoToken{}, fmt.Errorf("%w: %v", ErrNoVideoToken, lastErr)
}

// Throttled reports how long class stays closed, for callers that want to wait instead of failing.
func (b *Backend) Throttled(class backoff.Class) time.Duration {
	return b.client.Registry().Remaining(class)
}
