package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dwizi/boost-runtime/internal/deferred"
	"github.com/dwizi/boost-runtime/internal/quota"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "boost_runtime_test.sqlite")
	sqlStore, err := New(dbPath)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return sqlStore
}

func TestPoolStateCheckpoint(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()

	if _, err := sqlStore.LoadPoolState(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint on fresh store, got %v", err)
	}

	state := quota.PoolState{
		Global: quota.GlobalPool{
			TotalActions: 1000,
			UsedActions:  412,
			PackKind:     "starter",
			Expiry:       time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		Daily: quota.DailyQuota{
			DailyLimit:    100,
			UsedToday:     37,
			LastResetDate: "2026-03-10",
			Distribution: map[quota.Kind]int{
				quota.KindReply: 30,
				quota.KindLike:  7,
			},
		},
	}
	if err := sqlStore.SavePoolState(ctx, state); err != nil {
		t.Fatalf("save pool state: %v", err)
	}

	loaded, err := sqlStore.LoadPoolState(ctx)
	if err != nil {
		t.Fatalf("load pool state: %v", err)
	}
	if loaded.Global.UsedActions != 412 || loaded.Global.PackKind != "starter" {
		t.Fatalf("unexpected global state: %+v", loaded.Global)
	}
	if !loaded.Global.Expiry.Equal(state.Global.Expiry) {
		t.Fatalf("expiry not preserved: %s", loaded.Global.Expiry)
	}
	if loaded.Daily.UsedToday != 37 || loaded.Daily.LastResetDate != "2026-03-10" {
		t.Fatalf("unexpected daily state: %+v", loaded.Daily)
	}
	if loaded.Daily.Distribution[quota.KindReply] != 30 || loaded.Daily.Distribution[quota.KindLike] != 7 {
		t.Fatalf("distribution not preserved: %+v", loaded.Daily.Distribution)
	}

	// A second save must overwrite, not accumulate.
	state.Global.UsedActions = 500
	state.Daily.Distribution = map[quota.Kind]int{quota.KindRepost: 1}
	if err := sqlStore.SavePoolState(ctx, state); err != nil {
		t.Fatalf("save pool state again: %v", err)
	}
	loaded, err = sqlStore.LoadPoolState(ctx)
	if err != nil {
		t.Fatalf("reload pool state: %v", err)
	}
	if loaded.Global.UsedActions != 500 {
		t.Fatalf("expected overwritten usage, got %d", loaded.Global.UsedActions)
	}
	if len(loaded.Daily.Distribution) != 1 || loaded.Daily.Distribution[quota.KindRepost] != 1 {
		t.Fatalf("expected replaced distribution, got %+v", loaded.Daily.Distribution)
	}
}

func TestAllocationCheckpoint(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()

	if _, err := sqlStore.LoadAllocation(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint on fresh store, got %v", err)
	}

	alloc := quota.Allocation{
		PerAccountLifetimeShare: 120,
		PerAccountDailyShare:    25,
		ActiveAccounts:          4,
		LastRecalculation:       time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
	if err := sqlStore.SaveAllocation(ctx, alloc); err != nil {
		t.Fatalf("save allocation: %v", err)
	}
	loaded, err := sqlStore.LoadAllocation(ctx)
	if err != nil {
		t.Fatalf("load allocation: %v", err)
	}
	if loaded.PerAccountLifetimeShare != 120 || loaded.PerAccountDailyShare != 25 || loaded.ActiveAccounts != 4 {
		t.Fatalf("unexpected allocation: %+v", loaded)
	}
	if !loaded.LastRecalculation.Equal(alloc.LastRecalculation) {
		t.Fatalf("recalculation timestamp not preserved: %s", loaded.LastRecalculation)
	}
}

func TestAccountsCheckpoint(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()

	accounts := []quota.Account{
		{
			ID:           "acct-1",
			DisplayName:  "Agent One",
			Active:       true,
			LifetimeUsed: 42,
			DailyUsed:    map[quota.Kind]int{quota.KindReply: 3, quota.KindLike: 1},
			ConnectedAt:  time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
			LastActionAt: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
		},
		{
			ID:           "acct-2",
			DisplayName:  "Agent Two",
			Active:       false,
			LifetimeUsed: 7,
			DailyUsed:    map[quota.Kind]int{},
		},
	}
	if err := sqlStore.SaveAccounts(ctx, accounts); err != nil {
		t.Fatalf("save accounts: %v", err)
	}

	loaded, err := sqlStore.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("load accounts: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(loaded))
	}
	first := loaded[0]
	if first.ID != "acct-1" || !first.Active || first.LifetimeUsed != 42 {
		t.Fatalf("unexpected first account: %+v", first)
	}
	if first.DailyUsed[quota.KindReply] != 3 || first.DailyUsed[quota.KindLike] != 1 {
		t.Fatalf("daily usage not preserved: %+v", first.DailyUsed)
	}
	if !first.ConnectedAt.Equal(accounts[0].ConnectedAt) {
		t.Fatalf("connected_at not preserved: %s", first.ConnectedAt)
	}
	second := loaded[1]
	if second.Active {
		t.Fatal("expected inactive account to stay inactive")
	}
	if second.LifetimeUsed != 7 {
		t.Fatalf("lifetime usage must survive deactivation, got %d", second.LifetimeUsed)
	}
}

func TestDeferredActionsCheckpoint(t *testing.T) {
	sqlStore := newTestStore(t)
	ctx := context.Background()

	actions := []deferred.Action{
		{
			ID:          "def_one",
			AccountID:   "acct-1",
			Kind:        quota.KindReply,
			ContentID:   "content-1",
			Payload:     "hello",
			ScheduledAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
			RetryCount:  1,
			EnqueuedAt:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:          "def_two",
			AccountID:   "acct-2",
			Kind:        quota.KindLike,
			ContentID:   "content-2",
			ScheduledAt: time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC),
			EnqueuedAt:  time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC),
		},
	}
	if err := sqlStore.SaveDeferredActions(ctx, actions); err != nil {
		t.Fatalf("save deferred actions: %v", err)
	}

	loaded, err := sqlStore.LoadDeferredActions(ctx)
	if err != nil {
		t.Fatalf("load deferred actions: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 deferred actions, got %d", len(loaded))
	}
	if loaded[0].ID != "def_two" {
		t.Fatalf("expected schedule-time ordering, got %s first", loaded[0].ID)
	}
	if loaded[1].RetryCount != 1 || loaded[1].Payload != "hello" {
		t.Fatalf("unexpected restored action: %+v", loaded[1])
	}

	if err := sqlStore.SaveDeferredActions(ctx, nil); err != nil {
		t.Fatalf("save empty deferred set: %v", err)
	}
	loaded, err = sqlStore.LoadDeferredActions(ctx)
	if err != nil {
		t.Fatalf("reload deferred actions: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected cleared queue, got %d", len(loaded))
	}
}
