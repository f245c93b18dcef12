package deferred

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dwizi/boost-runtime/internal/platform"
	"github.com/dwizi/boost-runtime/internal/quota"
	"github.com/dwizi/boost-runtime/internal/slots"
)

type Action struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Kind        quota.Kind `json:"kind"`
	ContentID   string     `json:"content_id"`
	Payload     string     `json:"payload,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	RetryCount  int        `json:"retry_count"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
}

type SlotSource interface {
	CanRunNow(accountID string, kind quota.Kind) slots.Decision
}

type MuteSource interface {
	MuteRemaining(accountID string) (time.Duration, bool)
}

// Runner executes a deferred action end to end: quota re-validation,
// execution, classification. Implemented by the orchestrator.
type Runner interface {
	RunDeferred(ctx context.Context, action Action) error
}

type Config struct {
	MaxAttempts int
	MaxAge      time.Duration
	RetryDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		MaxAge:      24 * time.Hour,
		RetryDelay:  20 * time.Minute,
	}
}

// Queue holds actions that could not run immediately. A periodic tick retries
// due entries; a separate sweep evicts stale or retry-exhausted entries as a
// safety net against anything the tick logic misses.
type Queue struct {
	mu     sync.Mutex
	cfg    Config
	byAcct map[string][]*Action
	slots  SlotSource
	mutes  MuteSource
	runner Runner
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg Config, slotSource SlotSource, muteSource MuteSource, runner Runner, logger *slog.Logger) *Queue {
	return &Queue{
		cfg:    cfg,
		byAcct: map[string][]*Action{},
		slots:  slotSource,
		mutes:  muteSource,
		runner: runner,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Enqueue defers an action until readyAt. Returns the assigned entry ID.
func (q *Queue) Enqueue(accountID string, kind quota.Kind, contentID, payload string, readyAt time.Time) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	action := &Action{
		ID:          "def_" + uuid.NewString(),
		AccountID:   accountID,
		Kind:        kind,
		ContentID:   contentID,
		Payload:     payload,
		ScheduledAt: readyAt,
		EnqueuedAt:  q.now(),
	}
	q.byAcct[accountID] = append(q.byAcct[accountID], action)
	q.logger.Info("action deferred",
		"deferred_id", action.ID,
		"account_id", accountID,
		"kind", string(kind),
		"content_id", contentID,
		"ready_at", readyAt,
	)
	return action.ID
}

// Tick retries every due action once. Inadmissible entries are pushed back
// without touching the retry counter: deferral is not a failure. Failed
// executions reschedule with a fixed backoff until MaxAttempts, fatal
// failures drop immediately.
func (q *Queue) Tick(ctx context.Context) {
	now := q.now()
	for _, action := range q.dueActions(now) {
		q.processDue(ctx, action, now)
	}
}

func (q *Queue) dueActions(now time.Time) []*Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*Action
	for _, actions := range q.byAcct {
		for _, action := range actions {
			if !action.ScheduledAt.After(now) {
				due = append(due, action)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	return due
}

func (q *Queue) processDue(ctx context.Context, action *Action, now time.Time) {
	if remaining, muted := q.mutes.MuteRemaining(action.AccountID); muted {
		q.reschedule(action, now.Add(remaining), false)
		return
	}
	decision := q.slots.CanRunNow(action.AccountID, action.Kind)
	if !decision.Allowed {
		q.reschedule(action, now.Add(decision.Wait), false)
		return
	}

	err := q.runner.RunDeferred(ctx, *action)
	if err == nil {
		q.remove(action.ID, action.AccountID)
		q.logger.Info("deferred action executed",
			"deferred_id", action.ID,
			"account_id", action.AccountID,
			"kind", string(action.Kind),
		)
		return
	}
	if errors.Is(err, quota.ErrDenied) {
		// Quota said no before anything ran. That is a deferral, not a
		// failed attempt: the entry waits for the rollover or the sweep.
		q.reschedule(action, now.Add(q.cfg.RetryDelay), false)
		return
	}
	if platform.IsFatal(err) {
		q.remove(action.ID, action.AccountID)
		q.logger.Error("deferred action dropped on fatal failure",
			"deferred_id", action.ID,
			"account_id", action.AccountID,
			"error", err,
		)
		return
	}

	q.mu.Lock()
	action.RetryCount++
	retries := action.RetryCount
	q.mu.Unlock()
	if retries >= q.cfg.MaxAttempts {
		q.remove(action.ID, action.AccountID)
		q.logger.Warn("deferred action abandoned after max retries",
			"deferred_id", action.ID,
			"account_id", action.AccountID,
			"kind", string(action.Kind),
			"retries", retries,
			"error", err,
		)
		return
	}
	q.reschedule(action, now.Add(q.cfg.RetryDelay), true)
	q.logger.Info("deferred action rescheduled after failure",
		"deferred_id", action.ID,
		"account_id", action.AccountID,
		"retries", retries,
		"error", err,
	)
}

// Sweep evicts entries past MaxAge or at the retry ceiling. Independent of
// Tick so a logic error there cannot leave the queue growing unbounded.
func (q *Queue) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	evicted := 0
	for accountID, actions := range q.byAcct {
		kept := actions[:0]
		for _, action := range actions {
			tooOld := now.Sub(action.EnqueuedAt) > q.cfg.MaxAge
			exhausted := action.RetryCount >= q.cfg.MaxAttempts
			if tooOld || exhausted {
				evicted++
				q.logger.Warn("deferred action evicted",
					"deferred_id", action.ID,
					"account_id", action.AccountID,
					"age", now.Sub(action.EnqueuedAt).String(),
					"retries", action.RetryCount,
				)
				continue
			}
			kept = append(kept, action)
		}
		if len(kept) == 0 {
			delete(q.byAcct, accountID)
		} else {
			q.byAcct[accountID] = kept
		}
	}
	return evicted
}

// Restore reloads checkpointed entries, keeping their IDs and retry counters.
// The next Sweep evicts anything that aged out while the process was down.
func (q *Queue) Restore(actions []Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, action := range actions {
		if action.ID == "" || action.AccountID == "" {
			continue
		}
		restored := action
		q.byAcct[action.AccountID] = append(q.byAcct[action.AccountID], &restored)
	}
}

// RetryDelay exposes the configured failure backoff so scan-time transient
// failures can be deferred with the same delay the queue itself uses.
func (q *Queue) RetryDelay() time.Duration {
	return q.cfg.RetryDelay
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, actions := range q.byAcct {
		total += len(actions)
	}
	return total
}

// Snapshot returns queue contents ordered by schedule time, for introspection.
func (q *Queue) Snapshot() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Action
	for _, actions := range q.byAcct {
		for _, action := range actions {
			out = append(out, *action)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (q *Queue) reschedule(action *Action, at time.Time, afterFailure bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	action.ScheduledAt = at
	if !afterFailure {
		q.logger.Debug("deferred action still inadmissible",
			"deferred_id", action.ID,
			"account_id", action.AccountID,
			"ready_at", at,
		)
	}
}

func (q *Queue) remove(id, accountID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	actions := q.byAcct[accountID]
	for i, action := range actions {
		if action.ID == id {
			q.byAcct[accountID] = append(actions[:i], actions[i+1:]...)
			break
		}
	}
	if len(q.byAcct[accountID]) == 0 {
		delete(q.byAcct, accountID)
	}
}
