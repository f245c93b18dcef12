package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

type Config struct {
	ThrottleBaseDelay   time.Duration
	ThrottleFactor      float64
	ThrottleMaxDelay    time.Duration
	ThrottleResetWindow time.Duration
	ThrottleMaxRetries  int

	AuthPause              time.Duration
	AuthResetWindow        time.Duration
	AuthAttentionThreshold int
	AuthCriticalThreshold  int
}

func DefaultConfig() Config {
	return Config{
		ThrottleBaseDelay:      15 * time.Minute,
		ThrottleFactor:         2,
		ThrottleMaxDelay:       4 * time.Hour,
		ThrottleResetWindow:    24 * time.Hour,
		ThrottleMaxRetries:     5,
		AuthPause:              15 * time.Minute,
		AuthResetWindow:        12 * time.Hour,
		AuthAttentionThreshold: 3,
		AuthCriticalThreshold:  5,
	}
}

type ThrottleResult struct {
	Delay         time.Duration
	ErrorCount    int
	ShouldDisable bool
	NextRetryAt   time.Time
}

type AuthResult struct {
	ErrorCount     int
	Pause          time.Duration
	NeedsAttention bool
	Critical       bool
}

type trackerState struct {
	errorCount    int
	windowStartAt time.Time
	lastErrorAt   time.Time
}

// Guard tracks upstream throttling and authorization failures per account.
// The two trackers are independent: throttling backs off exponentially and
// escalates to a disable signal, authorization failures pause for a fixed
// window and escalate to operator alerts. Both always mute the account.
type Guard struct {
	mu       sync.Mutex
	cfg      Config
	throttle map[string]*trackerState
	auth     map[string]*trackerState
	mutes    map[string]time.Time
	now      func() time.Time
	logger   *slog.Logger
}

func NewGuard(cfg Config, logger *slog.Logger) *Guard {
	return &Guard{
		cfg:      cfg,
		throttle: map[string]*trackerState{},
		auth:     map[string]*trackerState{},
		mutes:    map[string]time.Time{},
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// RecordThrottleError registers one upstream throttle signal and mutes the
// account for an exponentially growing delay, capped at ThrottleMaxDelay.
// Disabling is an alerting signal layered on top of the mute, not a separate
// mechanism.
func (g *Guard) RecordThrottleError(accountID string) ThrottleResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	state := g.bumpLocked(g.throttle, accountID, g.cfg.ThrottleResetWindow, now)

	delay := g.cfg.ThrottleBaseDelay
	for i := 1; i < state.errorCount; i++ {
		delay = time.Duration(float64(delay) * g.cfg.ThrottleFactor)
		if delay >= g.cfg.ThrottleMaxDelay {
			delay = g.cfg.ThrottleMaxDelay
			break
		}
	}
	result := ThrottleResult{
		Delay:         delay,
		ErrorCount:    state.errorCount,
		ShouldDisable: state.errorCount >= g.cfg.ThrottleMaxRetries,
		NextRetryAt:   now.Add(delay),
	}
	g.mutes[accountID] = result.NextRetryAt

	if result.ShouldDisable {
		g.logger.Error("account throttled past retry budget",
			"account_id", accountID,
			"error_count", result.ErrorCount,
			"muted_for", delay.String(),
		)
	} else {
		g.logger.Warn("account throttled",
			"account_id", accountID,
			"error_count", result.ErrorCount,
			"muted_for", delay.String(),
			"next_retry_at", result.NextRetryAt,
		)
	}
	return result
}

// RecordAuthError registers one authorization failure. The pause is fixed:
// an auth problem is a credential or permission issue, waiting longer will
// not fix it, so the guard alerts instead of escalating the delay.
func (g *Guard) RecordAuthError(accountID string) AuthResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	state := g.bumpLocked(g.auth, accountID, g.cfg.AuthResetWindow, now)

	result := AuthResult{
		ErrorCount:     state.errorCount,
		Pause:          g.cfg.AuthPause,
		NeedsAttention: state.errorCount >= g.cfg.AuthAttentionThreshold,
		Critical:       state.errorCount >= g.cfg.AuthCriticalThreshold,
	}
	g.mutes[accountID] = now.Add(result.Pause)

	switch {
	case result.Critical:
		g.logger.Error("account authorization failing, operator attention required",
			"account_id", accountID, "error_count", result.ErrorCount)
	case result.NeedsAttention:
		g.logger.Warn("account authorization failures accumulating",
			"account_id", accountID, "error_count", result.ErrorCount)
	default:
		g.logger.Info("account authorization denied, pausing",
			"account_id", accountID, "error_count", result.ErrorCount, "pause", result.Pause.String())
	}
	return result
}

// IsMuted reports whether a live mute entry exists. Expired entries are
// purged here, logging a single unmute event per entry.
func (g *Guard) IsMuted(accountID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isMutedLocked(accountID)
}

func (g *Guard) isMutedLocked(accountID string) bool {
	until, ok := g.mutes[accountID]
	if !ok {
		return false
	}
	if g.now().Before(until) {
		return true
	}
	delete(g.mutes, accountID)
	g.logger.Info("account unmuted", "account_id", accountID, "muted_until", until)
	return false
}

// MuteRemaining returns how long the account stays muted, applying the same
// lazy eviction as IsMuted.
func (g *Guard) MuteRemaining(accountID string) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isMutedLocked(accountID) {
		return 0, false
	}
	return g.mutes[accountID].Sub(g.now()), true
}

// Mutes returns a snapshot of live mute entries for introspection.
func (g *Guard) Mutes() map[string]time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	snapshot := map[string]time.Time{}
	for accountID, until := range g.mutes {
		if now.Before(until) {
			snapshot[accountID] = until
		}
	}
	return snapshot
}

func (g *Guard) bumpLocked(tracker map[string]*trackerState, accountID string, resetWindow time.Duration, now time.Time) *trackerState {
	state, ok := tracker[accountID]
	if !ok {
		state = &trackerState{}
		tracker[accountID] = state
	}
	if state.errorCount > 0 && now.Sub(state.windowStartAt) > resetWindow {
		state.errorCount = 0
	}
	if state.errorCount == 0 {
		state.windowStartAt = now
	}
	state.errorCount++
	state.lastErrorAt = now
	return state
}
