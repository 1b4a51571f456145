package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetsync/internal/models"
)

func TestMemoryMessagesPaginateAndTrackReads(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, body := range []string{"a", "b", "c"} {
		_, err := m.CreateMessage(ctx, models.KindGroup, 1, 1, body)
		require.NoError(t, err)
	}
	_, err := m.CreateMessage(ctx, models.KindDirect, 1, 1, "other conversation")
	require.NoError(t, err)

	recs, total, err := m.ListMessages(ctx, models.KindGroup, 1, 2, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].Content)

	require.NoError(t, m.MarkRead(ctx, models.KindGroup, 1, recs[0].ID, 2))
	assert.ErrorIs(t, m.MarkRead(ctx, models.KindDirect, 9, recs[0].ID, 2), ErrMessageNotFound)

	recs, _, _ = m.ListMessages(ctx, models.KindGroup, 1, 2, 10, 0)
	assert.False(t, recs[0].IsRead)
	assert.True(t, recs[1].IsRead)

	recs, _, _ = m.ListMessages(ctx, models.KindGroup, 1, 3, 10, 0)
	assert.False(t, recs[1].IsRead)

	recs, _, _ = m.ListMessages(ctx, models.KindGroup, 1, 2, 10, 50)
	assert.Empty(t, recs)
}

func TestMemoryAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, _ := m.CanAccess(ctx, models.KindDirect, 5, 9)
	assert.True(t, ok)

	require.NoError(t, m.AddMember(ctx, models.KindDirect, 5, 1))
	ok, _ = m.CanAccess(ctx, models.KindDirect, 5, 9)
	assert.False(t, ok)
	ok, _ = m.CanAccess(ctx, models.KindDirect, 5, 1)
	assert.True(t, ok)
}

func TestMemoryQuestions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	q1, err := m.CreateQuestion(ctx, 3, 1, "first?")
	require.NoError(t, err)
	q2, err := m.CreateQuestion(ctx, 3, 1, "second?")
	require.NoError(t, err)

	up, err := m.Upvote(ctx, 3, q2.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, up.Upvotes)
	_, err = m.Upvote(ctx, 3, q2.ID, 2)
	assert.ErrorIs(t, err, ErrAlreadyUpvoted)
	_, err = m.Upvote(ctx, 4, q1.ID, 2)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	qs, err := m.ListQuestions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, q2.ID, qs[0].ID)
}

func TestStaticUsers(t *testing.T) {
	users := NewStaticUsers([]string{"alice:pw1", "bob:pw2", "broken"})

	id, err := users.Authenticate(context.Background(), "bob", "pw2")
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	_, err = users.Authenticate(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(context.Background(), "broken", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
