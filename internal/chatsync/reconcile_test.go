package chatsync

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetsync/internal/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func confirmed(id string, sec int, sender, body string) models.Message {
	return models.Message{
		ID:             id,
		Kind:           models.KindGroup,
		ConversationID: "1",
		SenderID:       sender,
		Body:           body,
		CreatedAt:      base.Add(time.Duration(sec) * time.Second),
		State:          models.StateConfirmed,
	}
}

func pending(tempID string, sec int, body string) models.Message {
	return models.NewPending(tempID, models.ConversationRef{Kind: models.KindGroup, ID: "1"}, "2", body, base.Add(time.Duration(sec)*time.Second))
}

func randomList(r *rand.Rand, n int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		sec := r.Intn(5)
		switch r.Intn(3) {
		case 0:
			out = append(out, pending("tmp-"+strconv.Itoa(r.Intn(4)), sec, "b"+strconv.Itoa(r.Intn(3))))
		default:
			m := confirmed(strconv.Itoa(r.Intn(8)), sec, strconv.Itoa(r.Intn(3)), "b"+strconv.Itoa(r.Intn(3)))
			m.IsRead = r.Intn(2) == 0
			out = append(out, m)
		}
	}
	return out
}

func TestMergeIsIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		list := randomList(r, r.Intn(12))
		once := Merge(list, nil)
		assert.Equal(t, once, Merge(list, list), "iteration %d", i)
		assert.Equal(t, once, Merge(once, nil), "iteration %d", i)

		seen := map[string]bool{}
		for _, m := range once {
			k := Key(m)
			assert.False(t, seen[k], "duplicate key %s", k)
			seen[k] = true
		}
	}
}

func TestMergeOrdersByTimestamp(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		list := randomList(r, r.Intn(12))
		r.Shuffle(len(list), func(a, b int) { list[a], list[b] = list[b], list[a] })
		merged := Merge(list[:len(list)/2], list[len(list)/2:])
		for j := 1; j < len(merged); j++ {
			assert.False(t, merged[j].CreatedAt.Before(merged[j-1].CreatedAt), "iteration %d", i)
		}
	}
}

func TestMergeTieBreaks(t *testing.T) {
	msgs := Merge([]models.Message{
		confirmed("10", 0, "1", "b"),
		confirmed("9", 0, "1", "a"),
		confirmed("x", 0, "1", "c"),
	}, []models.Message{pending("tmp-1", 0, "d")})

	require.Len(t, msgs, 4)
	// messages without a server id first, then numeric ids by value, then other ids
	assert.Equal(t, "tmp-1", msgs[0].TempID)
	assert.Equal(t, "9", msgs[1].ID)
	assert.Equal(t, "10", msgs[2].ID)
	assert.Equal(t, "x", msgs[3].ID)
}

func TestMergeCollisionPrefersConfirmed(t *testing.T) {
	server := confirmed("42", 1, "2", "hello")
	local := server
	local.IsRead = true
	local.State = models.StatePending
	local.ID = ""
	local.TempID = "tmp-1"

	msgs := Merge([]models.Message{server}, []models.Message{local})
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, "tmp-1", msgs[0].TempID)
	assert.True(t, msgs[0].IsRead)
}

func TestMergeOrderIgnoresInputOrder(t *testing.T) {
	ids := []string{"10", "9", "5x"}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, perm := range perms {
		var server []models.Message
		for _, i := range perm {
			server = append(server, confirmed(ids[i], 0, "1", "b"))
		}
		msgs := Merge(server, []models.Message{pending("tmp-1", 0, "d")})
		require.Len(t, msgs, 4)
		got := make([]string, 0, len(msgs))
		for _, m := range msgs {
			got = append(got, m.ID+m.TempID)
		}
		assert.Equal(t, []string{"tmp-1", "9", "10", "5x"}, got, "input order %v", perm)
	}
}

func TestCompositeKeyTruncatesBody(t *testing.T) {
	long := strings.Repeat("é", 100)
	m := pending("tmp-1", 0, long)
	key := CompositeKey(m)
	assert.True(t, strings.HasSuffix(key, "|"+strings.Repeat("é", 64)))
	assert.Equal(t, "id:5", Key(confirmed("5", 0, "1", "x")))
}
