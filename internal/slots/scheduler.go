package slots

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dwizi/boost-runtime/internal/quota"
)

const dateLayout = "2006-01-02"

type Slot struct {
	Target   time.Time
	Consumed bool
}

type Decision struct {
	Allowed bool
	Reason  string
	Wait    time.Duration
}

type plan struct {
	generatedDate string
	byKind        map[quota.Kind][]*Slot
}

// Scheduler spreads each account's permitted daily actions into timed slots
// over the next 24 hours. Slots carry per-slot jitter so action timing never
// looks perfectly periodic. A slot is consumable within a tolerance window
// around its target, early or late, to absorb scan-interval drift.
type Scheduler struct {
	mu        sync.Mutex
	plans     map[string]*plan
	tolerance time.Duration
	jitter    float64
	now       func() time.Time
	rand      func() float64
	logger    *slog.Logger
}

type Config struct {
	Tolerance time.Duration
	Jitter    float64
}

func DefaultConfig() Config {
	return Config{
		Tolerance: 15 * time.Minute,
		Jitter:    0.2,
	}
}

func New(cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		plans:     map[string]*plan{},
		tolerance: cfg.Tolerance,
		jitter:    cfg.Jitter,
		now:       func() time.Time { return time.Now().UTC() },
		rand:      rand.Float64,
		logger:    logger,
	}
}

// EnsureScheduleForToday regenerates the account's slot plan when none exists
// or the existing plan was generated on a previous calendar day.
func (s *Scheduler) EnsureScheduleForToday(accountID string, limitsByKind map[quota.Kind]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().Format(dateLayout)
	existing, ok := s.plans[accountID]
	if ok && existing.generatedDate == today {
		return
	}

	generated := &plan{
		generatedDate: today,
		byKind:        map[quota.Kind][]*Slot{},
	}
	total := 0
	for kind, limit := range limitsByKind {
		if limit < 1 {
			continue
		}
		generated.byKind[kind] = s.generateSlots(limit)
		total += limit
	}
	s.plans[accountID] = generated
	s.logger.Info("daily schedule generated",
		"account_id", accountID,
		"date", today,
		"slots", total,
	)
}

func (s *Scheduler) generateSlots(count int) []*Slot {
	now := s.now()
	interval := 24 * time.Hour / time.Duration(count)
	slots := make([]*Slot, 0, count)
	for i := 0; i < count; i++ {
		base := interval*time.Duration(i) + interval/2
		jitterRange := float64(interval) * s.jitter
		offset := time.Duration((s.rand()*2 - 1) * jitterRange)
		target := base + offset
		if target < 0 {
			target = 0
		}
		if target >= 24*time.Hour {
			target = 24*time.Hour - time.Minute
		}
		slots = append(slots, &Slot{Target: now.Add(target)})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Target.Before(slots[j].Target) })
	return slots
}

// CanRunNow consumes the earliest open slot within the tolerance window of
// now. When no slot is open it reports the wait until the next one, or 24h
// when the account has no open slots left today.
func (s *Scheduler) CanRunNow(accountID string, kind quota.Kind) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.plans[accountID]
	if !ok {
		return Decision{Reason: "no_schedule", Wait: 24 * time.Hour}
	}
	slots := existing.byKind[kind]
	if len(slots) == 0 {
		return Decision{Reason: "no_slots_for_kind", Wait: 24 * time.Hour}
	}

	var next *Slot
	for _, slot := range slots {
		if slot.Consumed {
			continue
		}
		distance := now.Sub(slot.Target)
		if distance < 0 {
			distance = -distance
		}
		if distance <= s.tolerance {
			slot.Consumed = true
			return Decision{Allowed: true}
		}
		if slot.Target.After(now) && (next == nil || slot.Target.Before(next.Target)) {
			next = slot
		}
	}
	if next == nil {
		return Decision{Reason: "no_open_slots", Wait: 24 * time.Hour}
	}
	return Decision{Reason: "slot_not_open", Wait: next.Target.Sub(now)}
}

// SlotCounts reports open/consumed slot totals per kind for introspection.
func (s *Scheduler) SlotCounts(accountID string) map[quota.Kind][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.plans[accountID]
	if !ok {
		return nil
	}
	counts := map[quota.Kind][2]int{}
	for kind, slots := range existing.byKind {
		open, consumed := 0, 0
		for _, slot := range slots {
			if slot.Consumed {
				consumed++
			} else {
				open++
			}
		}
		counts[kind] = [2]int{open, consumed}
	}
	return counts
}

func (s *Scheduler) slotsFor(accountID string, kind quota.Kind) []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.plans[accountID]
	if !ok {
		return nil
	}
	out := make([]Slot, 0, len(existing.byKind[kind]))
	for _, slot := range existing.byKind[kind] {
		out = append(out, *slot)
	}
	return out
}
