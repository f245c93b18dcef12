package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwizi/boost-runtime/internal/store"
)

// restoreCheckpoint reloads persisted budget state so a restart never
// re-grants quota that was already spent. A missing checkpoint means a fresh
// install: the configured budgets stand as-is.
func (r *Runtime) restoreCheckpoint(ctx context.Context) error {
	state, err := r.store.LoadPoolState(ctx)
	switch {
	case errors.Is(err, store.ErrNoCheckpoint):
		r.logger.Info("no checkpoint found, starting fresh")
		return nil
	case err != nil:
		return fmt.Errorf("restore pool state: %w", err)
	}
	r.pool.Restore(state)

	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("restore accounts: %w", err)
	}
	r.registry.Restore(accounts)

	alloc, err := r.store.LoadAllocation(ctx)
	if err != nil && !errors.Is(err, store.ErrNoCheckpoint) {
		return fmt.Errorf("restore allocation: %w", err)
	}
	if err == nil {
		r.allocator.RestoreAllocation(alloc)
	}

	actions, err := r.store.LoadDeferredActions(ctx)
	if err != nil {
		return fmt.Errorf("restore deferred actions: %w", err)
	}
	r.engine.Queue().Restore(actions)

	r.logger.Info("checkpoint restored",
		"global_used", state.Global.UsedActions,
		"used_today", state.Daily.UsedToday,
		"accounts", len(accounts),
		"deferred_actions", len(actions),
	)
	return nil
}

func (r *Runtime) saveCheckpoint(ctx context.Context) error {
	if err := r.store.SavePoolState(ctx, r.pool.Snapshot()); err != nil {
		return fmt.Errorf("checkpoint pool state: %w", err)
	}
	if err := r.store.SaveAccounts(ctx, r.registry.List()); err != nil {
		return fmt.Errorf("checkpoint accounts: %w", err)
	}
	if err := r.store.SaveAllocation(ctx, r.allocator.Allocation()); err != nil {
		return fmt.Errorf("checkpoint allocation: %w", err)
	}
	if err := r.store.SaveDeferredActions(ctx, r.engine.Queue().Snapshot()); err != nil {
		return fmt.Errorf("checkpoint deferred actions: %w", err)
	}
	return nil
}
