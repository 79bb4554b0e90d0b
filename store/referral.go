package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ReferralBonus is the points awarded to each side of a redeemed referral.
const ReferralBonus = 5

var (
	// ErrInvalidCode means no referral code matches.
	ErrInvalidCode = errors.New("store: invalid referral code")
	// ErrSelfReferral means a member tried to redeem their own code.
	ErrSelfReferral = errors.New("store: cannot redeem your own referral code")
	// ErrAlreadyReferred means the member has already redeemed a code.
	ErrAlreadyReferred = errors.New("store: referral code already redeemed")
)

// Referral is a member's invite code and how often it has been redeemed.
type Referral struct {
	Handle    string    `json:"handle"`
	Code      string    `json:"code"`
	Uses      int       `json:"uses"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralUse records one redemption.
type ReferralUse struct {
	Referrer  string    `json:"referrer"`
	Invitee   string    `json:"invitee"`
	Code      string    `json:"code"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralSummary is the per-member referral standing. Bonus points are
// tracked separately from the synced score, which is overwritten wholesale
// on every sync.
type ReferralSummary struct {
	Code       string        `json:"code"`
	Uses       int           `json:"uses"`
	Points     int           `json:"points"`
	Made       []ReferralUse `json:"made"`
	ReferredBy string        `json:"referred_by,omitempty"`
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateReferralCode builds an 8-character code: the first three characters
// of the handle uppercased (padded with X for short handles) plus five random
// characters.
func generateReferralCode(handle string) (string, error) {
	prefix := strings.ToUpper(handle)
	if len(prefix) >= 3 {
		prefix = prefix[:3]
	} else {
		prefix += strings.Repeat("X", 3-len(prefix))
	}
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "store: generating referral code")
	}
	out := []byte(prefix)
	for _, b := range buf {
		out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return string(out), nil
}

// ReferralCode returns the member's invite code, creating one on first use.
// Repeated calls return the same code.
func (s *Store) ReferralCode(ctx context.Context, handle string) (Referral, error) {
	ref, err := s.referralByHandle(ctx, handle)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Referral{}, errors.Wrapf(err, "store: reading referral for %s", handle)
	}
	code, err := generateReferralCode(handle)
	if err != nil {
		return Referral{}, err
	}
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO referrals (handle, code, uses, created_at) VALUES (?, ?, 0, ?)`,
		handle, code, now.UnixNano()); err != nil {
		return Referral{}, errors.Wrapf(err, "store: creating referral code for %s", handle)
	}
	return Referral{Handle: handle, Code: code, CreatedAt: now}, nil
}

func (s *Store) referralByHandle(ctx context.Context, handle string) (Referral, error) {
	var ref Referral
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT handle, code, uses, created_at FROM referrals WHERE handle = ?`, handle,
	).Scan(&ref.Handle, &ref.Code, &ref.Uses, &createdAt)
	if err != nil {
		return Referral{}, err
	}
	ref.CreatedAt = time.Unix(0, createdAt)
	return ref, nil
}

// Redeem applies code on behalf of invitee: the redemption is recorded, the
// referrer's use count is bumped and both sides receive ReferralBonus points.
// A member redeems at most one code, and never their own.
func (s *Store) Redeem(ctx context.Context, invitee, code string) (ReferralUse, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReferralUse{}, errors.Wrap(err, "store: starting redemption")
	}
	defer tx.Rollback()

	var referrer string
	err = tx.QueryRowContext(ctx,
		`SELECT handle FROM referrals WHERE code = ?`, code).Scan(&referrer)
	if errors.Is(err, sql.ErrNoRows) {
		return ReferralUse{}, errors.Wrapf(ErrInvalidCode, "code %q", code)
	}
	if err != nil {
		return ReferralUse{}, errors.Wrapf(err, "store: looking up code %q", code)
	}
	if referrer == invitee {
		return ReferralUse{}, errors.Wrapf(ErrSelfReferral, "handle %q", invitee)
	}

	var redeemed int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM referral_uses WHERE invitee = ?`, invitee).Scan(&redeemed); err != nil {
		return ReferralUse{}, errors.Wrapf(err, "store: checking redemptions for %s", invitee)
	}
	if redeemed > 0 {
		return ReferralUse{}, errors.Wrapf(ErrAlreadyReferred, "handle %q", invitee)
	}

	use := ReferralUse{
		Referrer:  referrer,
		Invitee:   invitee,
		Code:      code,
		Points:    ReferralBonus,
		CreatedAt: time.Now(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO referral_uses (invitee, referrer, code, points, created_at) VALUES (?, ?, ?, ?, ?)`,
		use.Invitee, use.Referrer, use.Code, use.Points, use.CreatedAt.UnixNano()); err != nil {
		return ReferralUse{}, errors.Wrap(err, "store: recording redemption")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE referrals SET uses = uses + 1 WHERE code = ?`, code); err != nil {
		return ReferralUse{}, errors.Wrap(err, "store: counting redemption")
	}
	for _, handle := range []string{referrer, invitee} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO referral_points (handle, points) VALUES (?, ?)
			ON CONFLICT(handle) DO UPDATE SET points = points + excluded.points`,
			handle, ReferralBonus); err != nil {
			return ReferralUse{}, errors.Wrapf(err, "store: awarding points to %s", handle)
		}
	}
	if err := tx.Commit(); err != nil {
		return ReferralUse{}, errors.Wrap(err, "store: committing redemption")
	}
	return use, nil
}

// ReferralStats returns the member's code, redemption history and bonus
// points. A member with no referral activity gets zero values, not an error.
func (s *Store) ReferralStats(ctx context.Context, handle string) (ReferralSummary, error) {
	var summary ReferralSummary

	ref, err := s.referralByHandle(ctx, handle)
	if err == nil {
		summary.Code = ref.Code
		summary.Uses = ref.Uses
	} else if !errors.Is(err, sql.ErrNoRows) {
		return ReferralSummary{}, errors.Wrapf(err, "store: reading referral for %s", handle)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT invitee, referrer, code, points, created_at FROM referral_uses WHERE referrer = ? ORDER BY created_at`,
		handle)
	if err != nil {
		return ReferralSummary{}, errors.Wrapf(err, "store: reading redemptions by %s", handle)
	}
	defer rows.Close()
	for rows.Next() {
		var use ReferralUse
		var createdAt int64
		if err := rows.Scan(&use.Invitee, &use.Referrer, &use.Code, &use.Points, &createdAt); err != nil {
			return ReferralSummary{}, errors.Wrap(err, "store: scanning redemption row")
		}
		use.CreatedAt = time.Unix(0, createdAt)
		summary.Made = append(summary.Made, use)
	}
	if err := rows.Err(); err != nil {
		return ReferralSummary{}, err
	}

	var referredBy string
	err = s.db.QueryRowContext(ctx,
		`SELECT referrer FROM referral_uses WHERE invitee = ?`, handle).Scan(&referredBy)
	if err == nil {
		summary.ReferredBy = referredBy
	} else if !errors.Is(err, sql.ErrNoRows) {
		return ReferralSummary{}, errors.Wrapf(err, "store: reading referrer of %s", handle)
	}

	var points int
	err = s.db.QueryRowContext(ctx,
		`SELECT points FROM referral_points WHERE handle = ?`, handle).Scan(&points)
	if err == nil {
		summary.Points = points
	} else if !errors.Is(err, sql.ErrNoRows) {
		return ReferralSummary{}, errors.Wrapf(err, "store: reading bonus points for %s", handle)
	}

	return summary, nil
}
