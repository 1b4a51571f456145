package chatsync

import (
	"sort"
	"strconv"
	"strings"

	"meetsync/internal/models"
)

const keyBodyRunes = 64

// Key identifies a message for deduplication: the server id when known, otherwise a
// composite of conversation, timestamp, sender and the start of the body.
func Key(m models.Message) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return "c:" + CompositeKey(m)
}

// CompositeKey is conversation|unixMillis|sender|first 64 runes of body.
func CompositeKey(m models.Message) string {
	body := m.Body
	if r := []rune(body); len(r) > keyBodyRunes {
		body = string(r[:keyBodyRunes])
	}
	var b strings.Builder
	b.WriteString(m.ConversationID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(m.CreatedAt.UnixMilli(), 10))
	b.WriteByte('|')
	b.WriteString(m.SenderID)
	b.WriteByte('|')
	b.WriteString(body)
	return b.String()
}

// Merge combines server messages with local ones into a sorted list without duplicates.
// On a collision the confirmed copy wins and the read flags are OR-ed. Merge(m, m) equals Merge(m, nil).
func Merge(server, local []models.Message) []models.Message {
	out := make([]models.Message, 0, len(server)+len(local))
	byKey := make(map[string]int, len(server)+len(local))
	// confirmed messages are also indexed by composite key, so a local copy that never
	// learned its server id still collapses onto the server's copy
	byComposite := make(map[string]int)

	add := func(m models.Message) {
		idx, ok := byKey[Key(m)]
		if !ok && m.ID == "" {
			idx, ok = byComposite[CompositeKey(m)]
		}
		if !ok {
			byKey[Key(m)] = len(out)
			if m.Confirmed() {
				byComposite[CompositeKey(m)] = len(out)
			}
			out = append(out, m)
			return
		}
		out[idx] = pick(out[idx], m)
	}

	// confirmed copies first so local copies find them regardless of input order
	for _, confirmed := range []bool{true, false} {
		for _, list := range [][]models.Message{server, local} {
			for _, m := range list {
				if m.Confirmed() == confirmed {
					add(m)
				}
			}
		}
	}

	SortMessages(out)
	return out
}

func pick(cur, next models.Message) models.Message {
	read := cur.IsRead || next.IsRead
	winner := cur
	switch {
	case next.Confirmed() && !cur.Confirmed():
		winner = cur.Confirm(next)
	case cur.Confirmed() && !next.Confirmed():
		if winner.TempID == "" {
			winner.TempID = next.TempID
		}
	case cur.State == models.StatePending && next.State == models.StateFailed:
		winner = next
	}
	winner.IsRead = read
	return winner
}

// SortMessages orders by timestamp, then by id rank (no id, numeric id, other id),
// numeric ids by value, and finally by key.
func SortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return less(msgs[i], msgs[j])
	})
}

// idRank places messages without a server id first, then numeric ids, then any other id.
func idRank(m models.Message) (int, int64) {
	if m.ID == "" {
		return 0, 0
	}
	if n, err := strconv.ParseInt(m.ID, 10, 64); err == nil {
		return 1, n
	}
	return 2, 0
}

func less(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	ar, an := idRank(a)
	br, bn := idRank(b)
	if ar != br {
		return ar < br
	}
	if an != bn {
		return an < bn
	}
	return Key(a) < Key(b)
}
