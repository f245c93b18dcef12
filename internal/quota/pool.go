package quota

import (
	"sync"
	"time"
)

type Kind string

const (
	KindReply  Kind = "reply"
	KindLike   Kind = "like"
	KindRepost Kind = "repost"
)

// KindsByPriority orders action kinds from most to least valuable. Selection
// and truncation both follow this order.
var KindsByPriority = []Kind{KindReply, KindLike, KindRepost}

const dateLayout = "2006-01-02"

type GlobalPool struct {
	TotalActions int
	UsedActions  int
	PackKind     string
	Expiry       time.Time
}

func (p GlobalPool) Remaining() int {
	remaining := p.TotalActions - p.UsedActions
	if remaining < 0 {
		return 0
	}
	return remaining
}

type DailyQuota struct {
	DailyLimit    int
	UsedToday     int
	LastResetDate string
	Distribution  map[Kind]int
}

type PoolConfig struct {
	TotalActions int
	PackKind     string
	Expiry       time.Time
	DailyLimit   int
}

type PoolState struct {
	Global GlobalPool
	Daily  DailyQuota
}

// Pool holds the global lifetime budget and the rolling daily budget. Daily
// state resets lazily on the first access after a date change, so a process
// that slept across midnight still rolls over exactly once.
type Pool struct {
	mu     sync.Mutex
	global GlobalPool
	daily  DailyQuota
	now    func() time.Time
}

func NewPool(cfg PoolConfig) *Pool {
	pool := &Pool{
		global: GlobalPool{
			TotalActions: cfg.TotalActions,
			PackKind:     cfg.PackKind,
			Expiry:       cfg.Expiry,
		},
		daily: DailyQuota{
			DailyLimit:   cfg.DailyLimit,
			Distribution: map[Kind]int{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	pool.daily.LastResetDate = pool.now().Format(dateLayout)
	return pool
}

// RolloverDailyIfNeeded resets the daily counters when the current date has
// moved past LastResetDate. Idempotent within a calendar day.
func (p *Pool) RolloverDailyIfNeeded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rolloverLocked()
}

func (p *Pool) rolloverLocked() bool {
	today := p.now().Format(dateLayout)
	if p.daily.LastResetDate == today {
		return false
	}
	p.daily.UsedToday = 0
	p.daily.Distribution = map[Kind]int{}
	p.daily.LastResetDate = today
	return true
}

// ConsumeGlobal takes n actions from the lifetime pool and records them
// against today's budget. Returns false when the pool is already empty.
func (p *Pool) ConsumeGlobal(n int, kind Kind) bool {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked()
	if p.global.Remaining() < n {
		return false
	}
	p.global.UsedActions += n
	p.daily.UsedToday += n
	p.daily.Distribution[kind] += n
	return true
}

func (p *Pool) Snapshot() PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked()
	distribution := make(map[Kind]int, len(p.daily.Distribution))
	for kind, count := range p.daily.Distribution {
		distribution[kind] = count
	}
	daily := p.daily
	daily.Distribution = distribution
	return PoolState{Global: p.global, Daily: daily}
}

// Restore replaces pool state from a persisted checkpoint.
func (p *Pool) Restore(state PoolState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = state.Global
	p.daily = state.Daily
	if p.daily.Distribution == nil {
		p.daily.Distribution = map[Kind]int{}
	}
	if p.daily.LastResetDate == "" {
		p.daily.LastResetDate = p.now().Format(dateLayout)
	}
}

func (p *Pool) GlobalRemaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.global.Remaining()
}

func (p *Pool) DailyRemaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked()
	remaining := p.daily.DailyLimit - p.daily.UsedToday
	if remaining < 0 {
		return 0
	}
	return remaining
}
