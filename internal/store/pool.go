package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dwizi/boost-runtime/internal/quota"
)

// ErrNoCheckpoint reports that no state was ever persisted; callers start
// fresh from configuration.
var ErrNoCheckpoint = errors.New("no checkpoint stored")

// SavePoolState replaces the single pool row and the per-kind distribution.
func (s *Store) SavePoolState(ctx context.Context, state quota.PoolState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pool checkpoint: %w", err)
	}
	defer tx.Rollback()

	expiryUnix := int64(0)
	if !state.Global.Expiry.IsZero() {
		expiryUnix = state.Global.Expiry.UTC().Unix()
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO quota_pool (
			id, total_actions, used_actions, pack_kind, expiry_unix,
			daily_limit, used_today, last_reset_date, updated_at_unix
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_actions = excluded.total_actions,
			used_actions = excluded.used_actions,
			pack_kind = excluded.pack_kind,
			expiry_unix = excluded.expiry_unix,
			daily_limit = excluded.daily_limit,
			used_today = excluded.used_today,
			last_reset_date = excluded.last_reset_date,
			updated_at_unix = excluded.updated_at_unix`,
		state.Global.TotalActions,
		state.Global.UsedActions,
		state.Global.PackKind,
		nullIfZeroInt64(expiryUnix),
		state.Daily.DailyLimit,
		state.Daily.UsedToday,
		state.Daily.LastResetDate,
		time.Now().UTC().Unix(),
	); err != nil {
		return fmt.Errorf("upsert pool state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_distribution`); err != nil {
		return fmt.Errorf("clear daily distribution: %w", err)
	}
	for kind, used := range state.Daily.Distribution {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO daily_distribution (kind, used) VALUES (?, ?)`,
			string(kind),
			used,
		); err != nil {
			return fmt.Errorf("insert daily distribution: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pool checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadPoolState(ctx context.Context) (quota.PoolState, error) {
	var state quota.PoolState
	var expiryUnix sql.NullInt64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT total_actions, used_actions, pack_kind, expiry_unix,
			daily_limit, used_today, last_reset_date
		 FROM quota_pool WHERE id = 1`,
	).Scan(
		&state.Global.TotalActions,
		&state.Global.UsedActions,
		&state.Global.PackKind,
		&expiryUnix,
		&state.Daily.DailyLimit,
		&state.Daily.UsedToday,
		&state.Daily.LastResetDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.PoolState{}, ErrNoCheckpoint
	}
	if err != nil {
		return quota.PoolState{}, fmt.Errorf("query pool state: %w", err)
	}
	if expiryUnix.Valid && expiryUnix.Int64 > 0 {
		state.Global.Expiry = time.Unix(expiryUnix.Int64, 0).UTC()
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, used FROM daily_distribution`)
	if err != nil {
		return quota.PoolState{}, fmt.Errorf("query daily distribution: %w", err)
	}
	defer rows.Close()

	state.Daily.Distribution = map[quota.Kind]int{}
	for rows.Next() {
		var kind string
		var used int
		if err := rows.Scan(&kind, &used); err != nil {
			return quota.PoolState{}, fmt.Errorf("scan daily distribution: %w", err)
		}
		state.Daily.Distribution[quota.Kind(kind)] = used
	}
	return state, rows.Err()
}

// SaveAllocation persists the last computed fair-share split so the API can
// report it immediately after a restart, before the first recalculation.
func (s *Store) SaveAllocation(ctx context.Context, alloc quota.Allocation) error {
	recalculatedAt := int64(0)
	if !alloc.LastRecalculation.IsZero() {
		recalculatedAt = alloc.LastRecalculation.UTC().Unix()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO allocation (id, lifetime_share, daily_share, active_accounts, recalculated_at_unix)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			lifetime_share = excluded.lifetime_share,
			daily_share = excluded.daily_share,
			active_accounts = excluded.active_accounts,
			recalculated_at_unix = excluded.recalculated_at_unix`,
		alloc.PerAccountLifetimeShare,
		alloc.PerAccountDailyShare,
		alloc.ActiveAccounts,
		nullIfZeroInt64(recalculatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert allocation: %w", err)
	}
	return nil
}

func (s *Store) LoadAllocation(ctx context.Context) (quota.Allocation, error) {
	var alloc quota.Allocation
	var recalculatedAt sql.NullInt64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT lifetime_share, daily_share, active_accounts, recalculated_at_unix
		 FROM allocation WHERE id = 1`,
	).Scan(
		&alloc.PerAccountLifetimeShare,
		&alloc.PerAccountDailyShare,
		&alloc.ActiveAccounts,
		&recalculatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Allocation{}, ErrNoCheckpoint
	}
	if err != nil {
		return quota.Allocation{}, fmt.Errorf("query allocation: %w", err)
	}
	if recalculatedAt.Valid && recalculatedAt.Int64 > 0 {
		alloc.LastRecalculation = time.Unix(recalculatedAt.Int64, 0).UTC()
	}
	return alloc, nil
}
