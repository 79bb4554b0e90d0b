package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Member{Handle: "alice", Score: 120, Tier: "Silver"}))
	m, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Handle)
	assert.Equal(t, 120, m.Score)
	assert.Equal(t, "Silver", m.Tier)
	assert.False(t, m.UpdatedAt.IsZero())

	// upsert replaces the standing
	require.NoError(t, s.Upsert(ctx, Member{Handle: "alice", Score: 250, Tier: "Gold"}))
	m, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 250, m.Score)
	assert.Equal(t, "Gold", m.Tier)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Member{Handle: "alice", Score: 10, Tier: "Bronze"}))
	require.NoError(t, s.Rename(ctx, "alice", "alicia"))

	_, err := s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	m, err := s.Get(ctx, "alicia")
	require.NoError(t, err)
	assert.Equal(t, 10, m.Score)

	assert.ErrorIs(t, s.Rename(ctx, "ghost", "phantom"), ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Member{Handle: "alice", Score: 10, Tier: "Bronze"}))
	require.NoError(t, s.Delete(ctx, "alice"))
	_, err := s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "alice"), ErrNotFound)
}

func TestLeaderboard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []Member{
		{Handle: "carol", Score: 300, Tier: "Gold"},
		{Handle: "alice", Score: 100, Tier: "Silver"},
		{Handle: "bob", Score: 550, Tier: "Diamond"},
		{Handle: "dave", Score: 5, Tier: "Bronze"},
	} {
		require.NoError(t, s.Upsert(ctx, m))
	}

	top, err := s.Leaderboard(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "bob", top[0].Handle)
	assert.Equal(t, "carol", top[1].Handle)
	assert.Equal(t, "alice", top[2].Handle)

	all, err := s.Leaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Member{Handle: "alice", Score: 100, Tier: "Silver"}))
	require.NoError(t, s.Upsert(ctx, Member{Handle: "bob", Score: 300, Tier: "Gold"}))
	require.NoError(t, s.Upsert(ctx, Member{Handle: "carol", Score: 100, Tier: "Silver"}))

	r, err := s.Rank(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Rank)

	// equal scores share a rank
	r, err = s.Rank(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Rank)
	r, err = s.Rank(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Rank)

	_, err = s.Rank(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
