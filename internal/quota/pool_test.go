package quota

import (
	"testing"
	"time"
)

func TestRolloverDailyIfNeededIsIdempotent(t *testing.T) {
	current := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	pool := NewPool(PoolConfig{TotalActions: 100, DailyLimit: 20})
	pool.now = func() time.Time { return current }
	pool.daily.LastResetDate = current.Format(dateLayout)

	if !pool.ConsumeGlobal(1, KindLike) {
		t.Fatal("expected consume to succeed")
	}
	if pool.RolloverDailyIfNeeded() {
		t.Fatal("expected no rollover on same date")
	}

	current = current.Add(2 * time.Hour)
	if !pool.RolloverDailyIfNeeded() {
		t.Fatal("expected rollover after date change")
	}
	if pool.RolloverDailyIfNeeded() {
		t.Fatal("expected second rollover on same date to be a no-op")
	}

	state := pool.Snapshot()
	if state.Daily.UsedToday != 0 {
		t.Fatalf("expected used today reset, got %d", state.Daily.UsedToday)
	}
	if len(state.Daily.Distribution) != 0 {
		t.Fatalf("expected cleared distribution, got %+v", state.Daily.Distribution)
	}
	if state.Global.UsedActions != 1 {
		t.Fatalf("expected lifetime usage preserved, got %d", state.Global.UsedActions)
	}
}

func TestConsumeGlobalFailsWhenPoolEmpty(t *testing.T) {
	pool := NewPool(PoolConfig{TotalActions: 2, DailyLimit: 10})
	if !pool.ConsumeGlobal(1, KindReply) || !pool.ConsumeGlobal(1, KindReply) {
		t.Fatal("expected first two consumes to succeed")
	}
	if pool.ConsumeGlobal(1, KindReply) {
		t.Fatal("expected consume on empty pool to fail")
	}
	if pool.GlobalRemaining() != 0 {
		t.Fatalf("expected zero remaining, got %d", pool.GlobalRemaining())
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	pool := NewPool(PoolConfig{TotalActions: 50, PackKind: "starter", DailyLimit: 10})
	pool.ConsumeGlobal(1, KindLike)
	pool.ConsumeGlobal(1, KindReply)
	state := pool.Snapshot()

	restored := NewPool(PoolConfig{})
	restored.Restore(state)
	got := restored.Snapshot()
	if got.Global.UsedActions != 2 || got.Global.TotalActions != 50 {
		t.Fatalf("unexpected global state after restore: %+v", got.Global)
	}
	if got.Daily.UsedToday != 2 || got.Daily.Distribution[KindLike] != 1 {
		t.Fatalf("unexpected daily state after restore: %+v", got.Daily)
	}
}
