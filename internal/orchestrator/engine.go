package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dwizi/boost-runtime/internal/deferred"
	"github.com/dwizi/boost-runtime/internal/platform"
	"github.com/dwizi/boost-runtime/internal/quota"
	"github.com/dwizi/boost-runtime/internal/ratelimit"
	"github.com/dwizi/boost-runtime/internal/selector"
	"github.com/dwizi/boost-runtime/internal/slots"
)

type Config struct {
	ScanInterval   time.Duration
	CandidateLimit int
	PacingRate     float64
	PacingBurst    int
}

func DefaultConfig() Config {
	return Config{
		ScanInterval:   5 * time.Minute,
		CandidateLimit: 20,
		PacingRate:     1,
		PacingBurst:    1,
	}
}

// Engine drives scan cycles: refresh membership, ensure slot plans, select
// actions per candidate, and run each admitted action through quota
// re-validation, outbound pacing and the execution client. A scan-in-progress
// flag keeps cycles from overlapping, which could double-consume quota for
// the same account.
type Engine struct {
	cfg       Config
	allocator *quota.Allocator
	registry  *quota.Registry
	selector  *selector.Selector
	guard     *ratelimit.Guard
	slots     *slots.Scheduler
	queue     *deferred.Queue
	accounts  platform.AccountSource
	content   platform.ContentSource
	executor  platform.Executor
	limiter   *rate.Limiter
	scanBusy  atomic.Bool
	now       func() time.Time
	logger    *slog.Logger
}

type Dependencies struct {
	Allocator *quota.Allocator
	Registry  *quota.Registry
	Selector  *selector.Selector
	Guard     *ratelimit.Guard
	Slots     *slots.Scheduler
	Accounts  platform.AccountSource
	Content   platform.ContentSource
	Executor  platform.Executor
}

func New(cfg Config, deps Dependencies, queueCfg deferred.Config, logger *slog.Logger) *Engine {
	if cfg.ScanInterval < time.Second {
		cfg.ScanInterval = 5 * time.Minute
	}
	if cfg.CandidateLimit < 1 {
		cfg.CandidateLimit = 20
	}
	if cfg.PacingRate <= 0 {
		cfg.PacingRate = 1
	}
	if cfg.PacingBurst < 1 {
		cfg.PacingBurst = 1
	}
	engine := &Engine{
		cfg:       cfg,
		allocator: deps.Allocator,
		registry:  deps.Registry,
		selector:  deps.Selector,
		guard:     deps.Guard,
		slots:     deps.Slots,
		accounts:  deps.Accounts,
		content:   deps.Content,
		executor:  deps.Executor,
		limiter:   rate.NewLimiter(rate.Limit(cfg.PacingRate), cfg.PacingBurst),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	engine.queue = deferred.New(queueCfg, deps.Slots, deps.Guard, engine, logger.With("component", "deferred-queue"))
	return engine
}

func (e *Engine) Queue() *deferred.Queue {
	return e.queue
}

func (e *Engine) Start(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	e.logger.Info("scan engine started", "scan_interval", e.cfg.ScanInterval.String())
	for {
		if err := e.Scan(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("scan cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("scan engine stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Scan runs one full cycle. Returns immediately when a previous cycle is
// still active.
func (e *Engine) Scan(ctx context.Context) error {
	if !e.scanBusy.CompareAndSwap(false, true) {
		e.logger.Warn("scan already in progress, skipping cycle")
		return nil
	}
	defer e.scanBusy.Store(false)

	if err := e.syncAccounts(ctx); err != nil {
		return fmt.Errorf("sync accounts: %w", err)
	}
	e.ensureSchedules()

	candidates, err := e.content.ListCandidates(ctx, e.cfg.CandidateLimit)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, accountID := range e.registry.ActiveIDs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.scanAccount(ctx, accountID, candidates)
	}
	return nil
}

func (e *Engine) syncAccounts(ctx context.Context) error {
	listed, err := e.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return err
	}
	members := make(map[string]string, len(listed))
	for _, account := range listed {
		members[account.ID] = account.DisplayName
	}
	if e.registry.Sync(members, e.now()) {
		e.allocator.Recalculate()
	}
	return nil
}

func (e *Engine) ensureSchedules() {
	alloc := e.allocator.Allocation()
	limits := kindLimits(alloc.PerAccountDailyShare, e.selector.Weights())
	if len(limits) == 0 {
		return
	}
	for _, accountID := range e.registry.ActiveIDs() {
		e.slots.EnsureScheduleForToday(accountID, limits)
	}
}

func (e *Engine) scanAccount(ctx context.Context, accountID string, candidates []string) {
	for _, contentID := range candidates {
		selection := e.selector.SelectActions(accountID, contentID)
		if len(selection.Actions) == 0 {
			if selection.Reason != quota.ReasonNone {
				e.logger.Debug("account skipped",
					"account_id", accountID,
					"reason", string(selection.Reason),
				)
				return
			}
			continue
		}
		for i, kind := range selection.Actions {
			if done := e.attemptAction(ctx, accountID, kind, contentID); done {
				e.deferIfMuted(accountID, contentID, selection.Actions[i+1:])
				return
			}
		}
	}
}

// attemptAction runs one selected action. Returns true when the account is
// finished for this cycle (muted, quota exhausted, or upstream pushed back).
func (e *Engine) attemptAction(ctx context.Context, accountID string, kind quota.Kind, contentID string) bool {
	if remaining, muted := e.guard.MuteRemaining(accountID); muted {
		e.queue.Enqueue(accountID, kind, contentID, "", e.now().Add(remaining))
		return true
	}
	decision := e.slots.CanRunNow(accountID, kind)
	if !decision.Allowed {
		e.logger.Info("action deferred to next slot",
			"account_id", accountID,
			"kind", string(kind),
			"reason", decision.Reason,
			"wait", decision.Wait.String(),
		)
		e.queue.Enqueue(accountID, kind, contentID, "", e.now().Add(decision.Wait))
		return false
	}

	err := e.runAction(ctx, accountID, kind, contentID, "")
	switch {
	case err == nil:
		return false
	case errors.Is(err, quota.ErrDenied):
		return true
	case platform.IsFatal(err):
		e.logger.Error("action dropped on fatal failure",
			"account_id", accountID,
			"kind", string(kind),
			"content_id", contentID,
			"error", err,
		)
		return false
	case platform.Classify(err) == platform.ErrorThrottled,
		platform.Classify(err) == platform.ErrorUnauthorized:
		// Guard already muted the account; nothing else runs this cycle.
		return true
	default:
		e.queue.Enqueue(accountID, kind, contentID, "", e.now().Add(e.queue.RetryDelay()))
		return false
	}
}

// deferIfMuted parks the unattempted rest of a selection behind the account's
// mute. Without this a mute raised mid-selection would silently drop the
// remaining kinds instead of deferring them.
func (e *Engine) deferIfMuted(accountID, contentID string, rest []quota.Kind) {
	if len(rest) == 0 {
		return
	}
	remaining, muted := e.guard.MuteRemaining(accountID)
	if !muted {
		return
	}
	readyAt := e.now().Add(remaining)
	for _, kind := range rest {
		e.queue.Enqueue(accountID, kind, contentID, "", readyAt)
	}
}

// RunDeferred executes a deferred action with the same re-validation path as
// a live scan attempt. Used by the deferred queue.
func (e *Engine) RunDeferred(ctx context.Context, action deferred.Action) error {
	return e.runAction(ctx, action.AccountID, action.Kind, action.ContentID, action.Payload)
}

func (e *Engine) runAction(ctx context.Context, accountID string, kind quota.Kind, contentID, payload string) error {
	admission := e.allocator.Consume(accountID, kind)
	if !admission.Allowed {
		return fmt.Errorf("%w: %s", quota.ErrDenied, admission.Reason)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	if e.executor == nil {
		return platform.ErrNoExecutor
	}
	err := e.executor.Execute(ctx, accountID, kind, contentID, payload)
	if err != nil {
		e.reactToFailure(accountID, err)
		return err
	}
	e.logger.Info("action executed",
		"account_id", accountID,
		"kind", string(kind),
		"content_id", contentID,
	)
	return nil
}

func (e *Engine) reactToFailure(accountID string, err error) {
	switch platform.Classify(err) {
	case platform.ErrorThrottled:
		e.guard.RecordThrottleError(accountID)
	case platform.ErrorUnauthorized:
		e.guard.RecordAuthError(accountID)
	}
}

// kindLimits splits the per-account daily share across action kinds in
// proportion to their selection weights. Floor division; leftovers stay
// unallocated.
func kindLimits(share int, weights selector.Weights) map[quota.Kind]int {
	if share <= 0 {
		return nil
	}
	total := 0.0
	for _, kind := range quota.KindsByPriority {
		if weight := weights[kind]; weight > 0 {
			total += weight
		}
	}
	if total <= 0 {
		return nil
	}
	limits := map[quota.Kind]int{}
	remaining := share
	for _, kind := range quota.KindsByPriority {
		weight := weights[kind]
		if weight <= 0 {
			continue
		}
		count := int(float64(share) * weight / total)
		if count > remaining {
			count = remaining
		}
		if count < 1 {
			continue
		}
		limits[kind] = count
		remaining -= count
	}
	return limits
}
