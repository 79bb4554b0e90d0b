package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// ErrNotFound means the requested member does not exist.
var ErrNotFound = errors.New("store: member not found")

// Member is one tracked handle and its last synced standing.
type Member struct {
	Handle    string    `json:"handle"`
	Score     int       `json:"score"`
	Tier      string    `json:"tier"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ranked is a member with its leaderboard position.
type Ranked struct {
	Member
	Rank int `json:"rank"`
}

// Store persists members in SQLite. It holds no cache or limiter state;
// the protection layer is purely in-memory and starts cold on every boot.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the member database at dbPath. If dbPath is empty
// or ":memory:", an in-memory database is used.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "store: opening database")
	}

	// WAL for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: enabling WAL")
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS members (
			handle TEXT PRIMARY KEY,
			score INTEGER NOT NULL DEFAULT 0,
			tier TEXT NOT NULL DEFAULT 'Bronze',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_members_score ON members(score DESC)`,
		`CREATE TABLE IF NOT EXISTS referrals (
			handle TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			uses INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS referral_uses (
			invitee TEXT PRIMARY KEY,
			referrer TEXT NOT NULL,
			code TEXT NOT NULL,
			points INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS referral_points (
			handle TEXT PRIMARY KEY,
			points INTEGER NOT NULL DEFAULT 0
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "store: preparing schema")
		}
	}

	return &Store{db: db}, nil
}

// Upsert inserts or replaces the standing for m.Handle.
func (s *Store) Upsert(ctx context.Context, m Member) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members (handle, score, tier, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET score = excluded.score, tier = excluded.tier, updated_at = excluded.updated_at`,
		m.Handle, m.Score, m.Tier, m.UpdatedAt.UnixNano())
	return errors.Wrapf(err, "store: upserting %s", m.Handle)
}

// Get returns the member for handle, or ErrNotFound.
func (s *Store) Get(ctx context.Context, handle string) (Member, error) {
	var m Member
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT handle, score, tier, updated_at FROM members WHERE handle = ?`, handle,
	).Scan(&m.Handle, &m.Score, &m.Tier, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, errors.Wrapf(ErrNotFound, "handle %q", handle)
	}
	if err != nil {
		return Member{}, errors.Wrapf(err, "store: reading %s", handle)
	}
	m.UpdatedAt = time.Unix(0, updatedAt)
	return m, nil
}

// Rename moves a member to a new handle, keeping its standing. The new
// standing should be synced afterwards.
func (s *Store) Rename(ctx context.Context, oldHandle, newHandle string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE members SET handle = ? WHERE handle = ?`, newHandle, oldHandle)
	if err != nil {
		return errors.Wrapf(err, "store: renaming %s", oldHandle)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.Wrapf(ErrNotFound, "handle %q", oldHandle)
	}
	return nil
}

// Delete removes a member. Deleting an unknown handle is ErrNotFound.
func (s *Store) Delete(ctx context.Context, handle string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE handle = ?`, handle)
	if err != nil {
		return errors.Wrapf(err, "store: deleting %s", handle)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.Wrapf(ErrNotFound, "handle %q", handle)
	}
	return nil
}

// Leaderboard returns the top limit members by score, highest first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]Member, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT handle, score, tier, updated_at FROM members ORDER BY score DESC, handle ASC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "store: reading leaderboard")
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var updatedAt int64
		if err := rows.Scan(&m.Handle, &m.Score, &m.Tier, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "store: scanning leaderboard row")
		}
		m.UpdatedAt = time.Unix(0, updatedAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// Rank returns the member with its 1-based position by score. Members with
// equal scores share the same rank.
func (s *Store) Rank(ctx context.Context, handle string) (Ranked, error) {
	m, err := s.Get(ctx, handle)
	if err != nil {
		return Ranked{}, err
	}
	var ahead int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM members WHERE score > ?`, m.Score).Scan(&ahead); err != nil {
		return Ranked{}, errors.Wrapf(err, "store: ranking %s", handle)
	}
	return Ranked{Member: m, Rank: ahead + 1}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
