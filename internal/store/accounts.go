package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dwizi/boost-runtime/internal/quota"
)

// SaveAccounts replaces the persisted account set, usage counters included.
// Inactive accounts are kept: lifetime usage must survive disconnects.
func (s *Store) SaveAccounts(ctx context.Context, accounts []quota.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accounts checkpoint: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_daily_usage`); err != nil {
		return fmt.Errorf("clear account daily usage: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}

	nowUnix := time.Now().UTC().Unix()
	for _, account := range accounts {
		active := 0
		if account.Active {
			active = 1
		}
		connectedAt := int64(0)
		if !account.ConnectedAt.IsZero() {
			connectedAt = account.ConnectedAt.UTC().Unix()
		}
		lastActionAt := int64(0)
		if !account.LastActionAt.IsZero() {
			lastActionAt = account.LastActionAt.UTC().Unix()
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO accounts (
				id, display_name, active, lifetime_used,
				connected_at_unix, last_action_at_unix, updated_at_unix
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			account.ID,
			account.DisplayName,
			active,
			account.LifetimeUsed,
			nullIfZeroInt64(connectedAt),
			nullIfZeroInt64(lastActionAt),
			nowUnix,
		); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		for kind, used := range account.DailyUsed {
			if used == 0 {
				continue
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO account_daily_usage (account_id, kind, used) VALUES (?, ?, ?)`,
				account.ID,
				string(kind),
				used,
			); err != nil {
				return fmt.Errorf("insert account daily usage: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accounts checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadAccounts(ctx context.Context) ([]quota.Account, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, display_name, active, lifetime_used, connected_at_unix, last_action_at_unix
		 FROM accounts ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	byID := map[string]*quota.Account{}
	var order []string
	for rows.Next() {
		var account quota.Account
		var active int
		var connectedAt sql.NullInt64
		var lastActionAt sql.NullInt64
		if err := rows.Scan(
			&account.ID,
			&account.DisplayName,
			&active,
			&account.LifetimeUsed,
			&connectedAt,
			&lastActionAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		account.Active = active != 0
		if connectedAt.Valid && connectedAt.Int64 > 0 {
			account.ConnectedAt = time.Unix(connectedAt.Int64, 0).UTC()
		}
		if lastActionAt.Valid && lastActionAt.Int64 > 0 {
			account.LastActionAt = time.Unix(lastActionAt.Int64, 0).UTC()
		}
		account.DailyUsed = map[quota.Kind]int{}
		byID[account.ID] = &account
		order = append(order, account.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	usageRows, err := s.db.QueryContext(ctx, `SELECT account_id, kind, used FROM account_daily_usage`)
	if err != nil {
		return nil, fmt.Errorf("query account daily usage: %w", err)
	}
	defer usageRows.Close()
	for usageRows.Next() {
		var accountID, kind string
		var used int
		if err := usageRows.Scan(&accountID, &kind, &used); err != nil {
			return nil, fmt.Errorf("scan account daily usage: %w", err)
		}
		if account, ok := byID[accountID]; ok {
			account.DailyUsed[quota.Kind(kind)] = used
		}
	}
	if err := usageRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account daily usage: %w", err)
	}

	accounts := make([]quota.Account, 0, len(order))
	for _, id := range order {
		accounts = append(accounts, *byID[id])
	}
	return accounts, nil
}
