package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReferralCode(t *testing.T) {
	code, err := generateReferralCode("alice")
	require.NoError(t, err)
	assert.Len(t, code, 8)
	assert.True(t, strings.HasPrefix(code, "ALI"), code)
	for _, c := range code {
		assert.Contains(t, codeAlphabet, string(c))
	}

	// short handles are padded
	code, err = generateReferralCode("ab")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "ABX"), code)
}

func TestReferralCodeStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.ReferralCode(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", first.Handle)
	assert.Equal(t, 0, first.Uses)

	second, err := s.ReferralCode(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.Code, second.Code)

	other, err := s.ReferralCode(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, other.Code)
}

func TestRedeem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref, err := s.ReferralCode(ctx, "alice")
	require.NoError(t, err)

	use, err := s.Redeem(ctx, "bob", ref.Code)
	require.NoError(t, err)
	assert.Equal(t, "alice", use.Referrer)
	assert.Equal(t, "bob", use.Invitee)
	assert.Equal(t, ReferralBonus, use.Points)

	// both sides got the bonus and the use count moved
	referrer, err := s.ReferralStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, referrer.Uses)
	assert.Equal(t, ReferralBonus, referrer.Points)
	require.Len(t, referrer.Made, 1)
	assert.Equal(t, "bob", referrer.Made[0].Invitee)
	assert.Empty(t, referrer.ReferredBy)

	invitee, err := s.ReferralStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReferralBonus, invitee.Points)
	assert.Equal(t, "alice", invitee.ReferredBy)
	assert.Empty(t, invitee.Made)
}

func TestRedeemInvalidCode(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Redeem(context.Background(), "bob", "NOPE1234")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestRedeemOwnCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref, err := s.ReferralCode(ctx, "alice")
	require.NoError(t, err)
	_, err = s.Redeem(ctx, "alice", ref.Code)
	assert.ErrorIs(t, err, ErrSelfReferral)
}

func TestRedeemOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, err := s.ReferralCode(ctx, "alice")
	require.NoError(t, err)
	carol, err := s.ReferralCode(ctx, "carol")
	require.NoError(t, err)

	_, err = s.Redeem(ctx, "bob", alice.Code)
	require.NoError(t, err)

	// a second redemption is refused whichever code is offered
	_, err = s.Redeem(ctx, "bob", alice.Code)
	assert.ErrorIs(t, err, ErrAlreadyReferred)
	_, err = s.Redeem(ctx, "bob", carol.Code)
	assert.ErrorIs(t, err, ErrAlreadyReferred)

	// the failed attempts awarded nothing further
	stats, err := s.ReferralStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReferralBonus, stats.Points)
}

func TestReferralStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.ReferralStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, ReferralSummary{}, stats)
}
