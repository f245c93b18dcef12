package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dwizi/boost-runtime/internal/deferred"
	"github.com/dwizi/boost-runtime/internal/platform"
	"github.com/dwizi/boost-runtime/internal/quota"
	"github.com/dwizi/boost-runtime/internal/ratelimit"
	"github.com/dwizi/boost-runtime/internal/selector"
	"github.com/dwizi/boost-runtime/internal/slots"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testHarness struct {
	engine    *Engine
	pool      *quota.Pool
	allocator *quota.Allocator
	registry  *quota.Registry
	guard     *ratelimit.Guard
	scheduler *slots.Scheduler
	mock      *platform.Mock
}

func newHarness(t *testing.T, slotTolerance time.Duration, weights selector.Weights) *testHarness {
	t.Helper()
	logger := discardLogger()
	pool := quota.NewPool(quota.PoolConfig{TotalActions: 1000, DailyLimit: 100})
	registry := quota.NewRegistry()
	allocator := quota.NewAllocator(pool, registry, logger)
	guard := ratelimit.NewGuard(ratelimit.DefaultConfig(), logger)
	scheduler := slots.New(slots.Config{Tolerance: slotTolerance, Jitter: 0}, logger)
	sel := selector.New(allocator, weights, logger)
	mock := platform.NewMock(
		[]platform.AccountInfo{{ID: "acct-1", DisplayName: "Agent One"}},
		[]string{"content-1"},
	)
	engine := New(
		Config{ScanInterval: time.Minute, CandidateLimit: 10, PacingRate: 1000, PacingBurst: 100},
		Dependencies{
			Allocator: allocator,
			Registry:  registry,
			Selector:  sel,
			Guard:     guard,
			Slots:     scheduler,
			Accounts:  mock,
			Content:   mock,
			Executor:  mock,
		},
		deferred.DefaultConfig(),
		logger,
	)
	return &testHarness{
		engine:    engine,
		pool:      pool,
		allocator: allocator,
		registry:  registry,
		guard:     guard,
		scheduler: scheduler,
		mock:      mock,
	}
}

func replyOnly() selector.Weights {
	return selector.Weights{quota.KindReply: 1.0}
}

func TestScanExecutesAdmittedAction(t *testing.T) {
	h := newHarness(t, 24*time.Hour, replyOnly())
	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	executed := h.mock.Executed()
	if len(executed) != 1 {
		t.Fatalf("expected one executed action, got %d", len(executed))
	}
	if executed[0].AccountID != "acct-1" || executed[0].Kind != quota.KindReply {
		t.Fatalf("unexpected action: %+v", executed[0])
	}

	account, ok := h.registry.Get("acct-1")
	if !ok || account.LifetimeUsed != 1 || account.DailyUsed[quota.KindReply] != 1 {
		t.Fatalf("expected quota booked against account, got %+v", account)
	}
}

func TestScanSyncsMembershipAndRecalculates(t *testing.T) {
	h := newHarness(t, 24*time.Hour, replyOnly())
	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if h.allocator.Allocation().ActiveAccounts != 1 {
		t.Fatalf("expected one active account, got %d", h.allocator.Allocation().ActiveAccounts)
	}

	h.mock.SetAccounts([]platform.AccountInfo{
		{ID: "acct-1", DisplayName: "Agent One"},
		{ID: "acct-2", DisplayName: "Agent Two"},
	})
	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	alloc := h.allocator.Allocation()
	if alloc.ActiveAccounts != 2 || alloc.PerAccountDailyShare != 50 {
		t.Fatalf("expected reallocation for two accounts, got %+v", alloc)
	}

	h.mock.SetAccounts([]platform.AccountInfo{{ID: "acct-2", DisplayName: "Agent Two"}})
	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("third scan failed: %v", err)
	}
	account, ok := h.registry.Get("acct-1")
	if !ok || account.Active {
		t.Fatalf("expected acct-1 deactivated after disappearing upstream, got %+v", account)
	}
}

func TestScanThrottleResponseMutesAccount(t *testing.T) {
	h := newHarness(t, 24*time.Hour, replyOnly())
	h.mock.FailWith("acct-1", platform.NewError(platform.ErrorThrottled, "429"))

	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if h.mock.ExecCalls() != 1 {
		t.Fatalf("expected exactly one attempt before mute, got %d", h.mock.ExecCalls())
	}
	if !h.guard.IsMuted("acct-1") {
		t.Fatal("expected account muted after throttle signal")
	}
}

func TestScanTransientFailureDefersAction(t *testing.T) {
	h := newHarness(t, 24*time.Hour, replyOnly())
	h.mock.FailWith("acct-1", platform.NewError(platform.ErrorTransient, "upstream hiccup"))

	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if h.engine.Queue().Len() != 1 {
		t.Fatalf("expected one deferred entry, got %d", h.engine.Queue().Len())
	}
}

func TestDeferredQuotaDenialKeepsRetryBudget(t *testing.T) {
	h := newHarness(t, 24*time.Hour, replyOnly())
	now := time.Now().UTC()
	h.registry.Register("acct-1", "Agent One", now)
	h.allocator.Recalculate()
	h.scheduler.EnsureScheduleForToday("acct-1", map[quota.Kind]int{quota.KindReply: 5})

	state := h.pool.Snapshot()
	state.Global.UsedActions = state.Global.TotalActions
	h.pool.Restore(state)

	h.engine.Queue().Enqueue("acct-1", quota.KindReply, "content-1", "", now.Add(-time.Minute))
	for tick := 0; tick < 5; tick++ {
		h.engine.Queue().Tick(context.Background())
	}

	if h.mock.ExecCalls() != 0 {
		t.Fatalf("expected no execution against an exhausted pool, got %d", h.mock.ExecCalls())
	}
	entries := h.engine.Queue().Snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected entry to outlive quota denials, got %d", len(entries))
	}
	if entries[0].RetryCount != 0 {
		t.Fatalf("quota denial must not count as a failed attempt, got retry count %d", entries[0].RetryCount)
	}
}

func TestScanMutedAccountDefersWholeSelection(t *testing.T) {
	weights := selector.Weights{quota.KindReply: 1.0, quota.KindLike: 1.0}
	h := newHarness(t, 24*time.Hour, weights)
	h.guard.RecordThrottleError("acct-1")

	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if h.mock.ExecCalls() != 0 {
		t.Fatalf("expected no execution while muted, got %d", h.mock.ExecCalls())
	}
	if got := h.engine.Queue().Len(); got != 2 {
		t.Fatalf("expected every selected kind deferred behind the mute, got %d entries", got)
	}
}

func TestScanDefersWhenNoSlotOpen(t *testing.T) {
	h := newHarness(t, time.Nanosecond, replyOnly())
	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if h.mock.ExecCalls() != 0 {
		t.Fatalf("expected no execution without an open slot, got %d", h.mock.ExecCalls())
	}
	if h.engine.Queue().Len() != 1 {
		t.Fatalf("expected the action deferred, got %d entries", h.engine.Queue().Len())
	}
}

func TestOverlappingScanIsSkipped(t *testing.T) {
	h := newHarness(t, 24*time.Hour, replyOnly())
	h.engine.scanBusy.Store(true)
	if err := h.engine.Scan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if h.mock.ExecCalls() != 0 {
		t.Fatalf("expected skipped cycle to execute nothing, got %d", h.mock.ExecCalls())
	}
}

func TestKindLimitsSplitsShareByWeight(t *testing.T) {
	limits := kindLimits(50, selector.Weights{
		quota.KindReply:  1.0,
		quota.KindLike:   0.3,
		quota.KindRepost: 0.05,
	})
	if limits[quota.KindReply] != 37 {
		t.Fatalf("expected 37 reply slots, got %d", limits[quota.KindReply])
	}
	if limits[quota.KindLike] != 11 {
		t.Fatalf("expected 11 like slots, got %d", limits[quota.KindLike])
	}
	if limits[quota.KindRepost] != 1 {
		t.Fatalf("expected 1 repost slot, got %d", limits[quota.KindRepost])
	}
	total := limits[quota.KindReply] + limits[quota.KindLike] + limits[quota.KindRepost]
	if total > 50 {
		t.Fatalf("kind limits oversubscribe daily share: %d", total)
	}

	if kindLimits(0, selector.Weights{quota.KindReply: 1}) != nil {
		t.Fatal("expected nil limits for zero share")
	}
}
