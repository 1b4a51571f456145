// Package normalize maps the backend's loosely shaped JSON onto the canonical models.
//
// The same logical field shows up under different names depending on the endpoint and the
// backend version. Each field has a fixed priority list; the first key present with a usable
// value wins. Nothing outside this package looks at raw response maps.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"meetsync/internal/models"
)

// Field priority lists.
var (
	IDKeys           = []string{"id", "message_id", "pk", "uuid"}
	BodyKeys         = []string{"content", "body", "text", "message"}
	SenderKeys       = []string{"sender_id", "sender", "user_id", "author_id", "from_user"}
	ConversationKeys = []string{"conversation_id", "chat_id", "group_id", "room_id"}
	TimestampKeys    = []string{"created_at", "timestamp", "sent_at", "createdAt", "created"}
	ReadKeys         = []string{"is_read", "read", "seen"}
	ListKeys         = []string{"results", "messages", "data", "items"}
	CountKeys        = []string{"count", "total"}
	TokenKeys        = []string{"token", "access", "access_token", "jwt"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
}

// Page is one page of a list endpoint.
type Page struct {
	Items []map[string]any
	// Count is the total number of items server-side, -1 when the server did not say.
	Count int
}

// DecodePage accepts a bare array or an envelope object.
func DecodePage(raw json.RawMessage) (Page, error) {
	page := Page{Count: -1}
	if len(raw) == 0 {
		return page, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return page, fmt.Errorf("decode page: %w", err)
	}
	switch t := v.(type) {
	case []any:
		page.Items = objects(t)
	case map[string]any:
		for _, k := range ListKeys {
			if list, ok := t[k].([]any); ok {
				page.Items = objects(list)
				break
			}
		}
		for _, k := range CountKeys {
			if n, ok := toInt(t[k]); ok {
				page.Count = n
				break
			}
		}
	case nil:
	default:
		return page, fmt.Errorf("decode page: unexpected %T", v)
	}
	return page, nil
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// DecodeObject decodes a single JSON object; some endpoints wrap it under "message".
func DecodeObject(raw json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if inner, ok := obj["message"].(map[string]any); ok {
		return inner, nil
	}
	return obj, nil
}

// Message converts one raw message object. ref fills the conversation when the payload omits it.
func Message(raw map[string]any, ref models.ConversationRef) models.Message {
	m := models.Message{
		ID:             String(raw, IDKeys...),
		Kind:           ref.Kind,
		ConversationID: String(raw, ConversationKeys...),
		SenderID:       String(raw, SenderKeys...),
		Body:           String(raw, BodyKeys...),
		CreatedAt:      Time(raw, TimestampKeys...),
		IsRead:         Bool(raw, ReadKeys...),
		State:          models.StateConfirmed,
	}
	if m.ConversationID == "" {
		m.ConversationID = ref.ID
	}
	return m
}

// Messages converts a page of raw objects.
func Messages(items []map[string]any, ref models.ConversationRef) []models.Message {
	out := make([]models.Message, 0, len(items))
	for _, item := range items {
		out = append(out, Message(item, ref))
	}
	return out
}

// Token extracts a bearer token from an auth response.
func Token(raw json.RawMessage) (string, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return "", err
	}
	if tok := String(obj, TokenKeys...); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("no token in response")
}

// String returns the first present key rendered as a string. Objects resolve through their "id".
func String(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return String(t, "id", "pk", "username")
	default:
		return ""
	}
}

// Time returns the first key that parses as a timestamp.
func Time(raw map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		if ts, ok := parseTime(raw[k]); ok {
			return ts
		}
	}
	return time.Time{}
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n), true
		}
	case float64:
		return fromEpoch(t), true
	}
	return time.Time{}, false
}

// fromEpoch treats values past year 33658 in seconds as milliseconds.
func fromEpoch(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Bool returns the first present key as a boolean.
func Bool(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch t := raw[k].(type) {
		case bool:
			return t
		case float64:
			return t != 0
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
	}
	return false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	}
	return 0, false
}
