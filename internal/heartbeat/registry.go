package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateStopped  = "stopped"
	StateStale    = "stale"
)

// Reporter is what long-running loops see: they announce themselves, beat
// while alive, and report degradation or shutdown.
type Reporter interface {
	Starting(component string)
	Beat(component string)
	Degrade(component string, err error)
	Stopped(component string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

type componentRecord struct {
	state      string
	lastError  string
	lastBeatAt time.Time
	updatedAt  time.Time
}

// Registry tracks the health of the runtime's loops. A component that stops
// beating turns stale in snapshots without writing anything.
type Registry struct {
	mu         sync.RWMutex
	components map[string]componentRecord
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]componentRecord{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(component string) {
	r.setState(component, StateStarting, "")
}

func (r *Registry) Beat(component string) {
	name := normalizeComponent(component)
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	record := r.components[name]
	record.state = StateHealthy
	record.lastError = ""
	record.lastBeatAt = now
	record.updatedAt = now
	r.components[name] = record
}

func (r *Registry) Degrade(component string, err error) {
	errorText := ""
	if err != nil {
		errorText = strings.TrimSpace(err.Error())
	}
	r.setState(component, StateDegraded, errorText)
}

func (r *Registry) Stopped(component string) {
	r.setState(component, StateStopped, "")
}

func (r *Registry) setState(component, state, errorText string) {
	name := normalizeComponent(component)
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	record := r.components[name]
	record.state = state
	record.lastError = errorText
	record.updatedAt = now
	if record.lastBeatAt.IsZero() {
		record.lastBeatAt = now
	}
	r.components[name] = record
}

// Snapshot reports every component, flipping silent-but-nominally-alive ones
// to stale when their last beat is older than staleAfter.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()

	results := make([]ComponentStatus, 0, len(r.components))
	for name, record := range r.components {
		status := ComponentStatus{
			Name:  name,
			State: record.state,
			Error: record.lastError,
		}
		if !record.lastBeatAt.IsZero() {
			status.LastBeatAtUnix = record.lastBeatAt.Unix()
		}
		if !record.updatedAt.IsZero() {
			status.UpdatedAtUnix = record.updatedAt.Unix()
		}
		if staleAfter > 0 && canBecomeStale(record.state) && now.Sub(record.lastBeatAt) > staleAfter {
			status.State = StateStale
		}
		results = append(results, status)
	}
	sort.Slice(results, func(left, right int) bool {
		return results[left].Name < results[right].Name
	})

	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         computeOverall(results),
		Components:      results,
	}
}

func normalizeComponent(component string) string {
	return strings.ToLower(strings.TrimSpace(component))
}

func canBecomeStale(state string) bool {
	return state == StateHealthy || state == StateStarting
}

func computeOverall(items []ComponentStatus) string {
	if len(items) == 0 {
		return "unknown"
	}
	overall := StateStopped
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			if overall != StateDegraded {
				overall = StateStarting
			}
		case StateHealthy:
			if overall == StateStopped {
				overall = StateHealthy
			}
		}
	}
	return overall
}
