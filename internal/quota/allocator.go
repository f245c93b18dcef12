package quota

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDenied marks an admission rejection surfaced through an error path.
// Callers wrap it so downstream code can tell "quota said no" apart from an
// execution failure.
var ErrDenied = errors.New("quota denied")

type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonAccountInactive       Reason = "account_inactive"
	ReasonGlobalExhausted       Reason = "global_exhausted"
	ReasonDailyExhausted        Reason = "daily_exhausted"
	ReasonAccountDailyExhausted Reason = "account_daily_exhausted"
)

type Allocation struct {
	PerAccountLifetimeShare int
	PerAccountDailyShare    int
	ActiveAccounts          int
	LastRecalculation       time.Time
}

type Admission struct {
	Allowed         bool
	Reason          Reason
	GlobalRemaining int
	DailyRemaining  int
}

// Allocator splits the shared budgets into per-account fair shares and
// answers admission queries against them. Every admission check fails closed:
// the most specific blocking reason wins and the check order is fixed for
// diagnosability.
type Allocator struct {
	mu        sync.Mutex
	pool      *Pool
	registry  *Registry
	alloc     Allocation
	baselines map[string]int
	logger    *slog.Logger
	now       func() time.Time
}

func NewAllocator(pool *Pool, registry *Registry, logger *slog.Logger) *Allocator {
	allocator := &Allocator{
		pool:      pool,
		registry:  registry,
		baselines: map[string]int{},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	allocator.Recalculate()
	return allocator
}

// Recalculate recomputes the fair shares from the current pool remainder and
// active account count. Floor division: remainder actions stay unallocated so
// shares never oversubscribe the pool. Each account's lifetime usage at
// recalculation time becomes the baseline its lifetime share is measured from.
func (a *Allocator) Recalculate() Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()

	activeCount := a.registry.ActiveCount()
	state := a.pool.Snapshot()
	alloc := Allocation{
		ActiveAccounts:    activeCount,
		LastRecalculation: a.now(),
	}
	if activeCount > 0 {
		alloc.PerAccountLifetimeShare = state.Global.Remaining() / activeCount
		alloc.PerAccountDailyShare = state.Daily.DailyLimit / activeCount
	}
	baselines := make(map[string]int, activeCount)
	for _, id := range a.registry.ActiveIDs() {
		if account, ok := a.registry.Get(id); ok {
			baselines[id] = account.LifetimeUsed
		}
	}
	a.alloc = alloc
	a.baselines = baselines
	a.logger.Info("allocation recalculated",
		"active_accounts", activeCount,
		"lifetime_share", alloc.PerAccountLifetimeShare,
		"daily_share", alloc.PerAccountDailyShare,
		"global_remaining", state.Global.Remaining(),
	)
	return alloc
}

func (a *Allocator) Allocation() Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc
}

// RestoreAllocation seeds the cached allocation from a checkpoint. Baselines
// restart from current usage; a follow-up Recalculate at startup overwrites
// everything once the live account set is known.
func (a *Allocator) RestoreAllocation(alloc Allocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alloc = alloc
	for _, id := range a.registry.ActiveIDs() {
		if account, ok := a.registry.Get(id); ok {
			a.baselines[id] = account.LifetimeUsed
		}
	}
}

// CanAdmit reports whether the account may run one more action right now.
// Check order: account active, lifetime pool, per-account lifetime share,
// global daily budget, per-account daily share.
func (a *Allocator) CanAdmit(accountID string) Admission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canAdmitLocked(accountID)
}

func (a *Allocator) canAdmitLocked(accountID string) Admission {
	a.rollover()

	account, ok := a.registry.Get(accountID)
	if !ok || !account.Active {
		return Admission{Reason: ReasonAccountInactive}
	}
	if a.alloc.ActiveAccounts == 0 {
		return Admission{Reason: ReasonAccountInactive}
	}

	state := a.pool.Snapshot()
	globalRemaining := a.lifetimeShareRemaining(account)
	dailyRemaining := a.dailyShareRemaining(account)

	if state.Global.Remaining() <= 0 {
		return Admission{Reason: ReasonGlobalExhausted, DailyRemaining: dailyRemaining}
	}
	if globalRemaining <= 0 {
		return Admission{Reason: ReasonGlobalExhausted, DailyRemaining: dailyRemaining}
	}
	if state.Daily.UsedToday >= state.Daily.DailyLimit {
		return Admission{Reason: ReasonDailyExhausted, GlobalRemaining: globalRemaining}
	}
	if dailyRemaining <= 0 {
		return Admission{Reason: ReasonAccountDailyExhausted, GlobalRemaining: globalRemaining}
	}
	return Admission{
		Allowed:         true,
		GlobalRemaining: globalRemaining,
		DailyRemaining:  dailyRemaining,
	}
}

// Consume re-validates admission and then books one action everywhere: the
// lifetime pool, today's budget and distribution, and the account counters.
// Re-validation is mandatory because sibling actions may have consumed quota
// between selection and execution.
func (a *Allocator) Consume(accountID string, kind Kind) Admission {
	a.mu.Lock()
	defer a.mu.Unlock()

	admission := a.canAdmitLocked(accountID)
	if !admission.Allowed {
		a.logger.Info("consume denied",
			"account_id", accountID,
			"kind", string(kind),
			"reason", string(admission.Reason),
		)
		return admission
	}
	if !a.pool.ConsumeGlobal(1, kind) {
		admission = Admission{Reason: ReasonGlobalExhausted, DailyRemaining: admission.DailyRemaining}
		return admission
	}
	a.registry.addUsage(accountID, kind, a.now())
	admission.GlobalRemaining--
	admission.DailyRemaining--
	return admission
}

func (a *Allocator) lifetimeShareRemaining(account Account) int {
	baseline, ok := a.baselines[account.ID]
	if !ok {
		baseline = account.LifetimeUsed
	}
	remaining := a.alloc.PerAccountLifetimeShare - (account.LifetimeUsed - baseline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (a *Allocator) dailyShareRemaining(account Account) int {
	remaining := a.alloc.PerAccountDailyShare - account.DailyUsedTotal()
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (a *Allocator) rollover() {
	if a.pool.RolloverDailyIfNeeded() {
		a.registry.ResetDailyCounters()
		a.logger.Info("daily quota rolled over")
	}
}
