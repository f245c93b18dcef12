package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store persists runtime checkpoints so a restart resumes with the same
// budget state instead of re-granting quota that was already spent.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS quota_pool (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			total_actions INTEGER NOT NULL,
			used_actions INTEGER NOT NULL,
			pack_kind TEXT NOT NULL DEFAULT '',
			expiry_unix INTEGER,
			daily_limit INTEGER NOT NULL,
			used_today INTEGER NOT NULL,
			last_reset_date TEXT NOT NULL DEFAULT '',
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_distribution (
			kind TEXT PRIMARY KEY,
			used INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS allocation (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			lifetime_share INTEGER NOT NULL,
			daily_share INTEGER NOT NULL,
			active_accounts INTEGER NOT NULL,
			recalculated_at_unix INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			lifetime_used INTEGER NOT NULL DEFAULT 0,
			connected_at_unix INTEGER,
			last_action_at_unix INTEGER,
			updated_at_unix INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS account_daily_usage (
			account_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			used INTEGER NOT NULL,
			PRIMARY KEY(account_id, kind),
			FOREIGN KEY(account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS deferred_actions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content_id TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			scheduled_at_unix INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			enqueued_at_unix INTEGER NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullIfZeroInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
