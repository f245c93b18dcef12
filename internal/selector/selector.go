package selector

import (
	"log/slog"
	"math/rand"
	"sync"

	"github.com/dwizi/boost-runtime/internal/quota"
)

type Weights map[quota.Kind]float64

// DefaultWeights favor replies over cheap engagement actions.
var DefaultWeights = Weights{
	quota.KindReply:  1.0,
	quota.KindLike:   0.3,
	quota.KindRepost: 0.05,
}

type Admitter interface {
	CanAdmit(accountID string) quota.Admission
}

type Selection struct {
	Actions []quota.Kind
	Reason  quota.Reason
}

// Selector decides which action kinds to attempt on a content item. One
// independent Bernoulli draw per kind, evaluated in priority order so that
// truncation to the remaining daily share keeps the most valuable actions.
// Selection never consumes quota; the orchestrator consumes at execution time.
type Selector struct {
	mu       sync.Mutex
	weights  Weights
	admitter Admitter
	draw     func() float64
	logger   *slog.Logger
}

func New(admitter Admitter, weights Weights, logger *slog.Logger) *Selector {
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	return &Selector{
		weights:  cloneWeights(weights),
		admitter: admitter,
		draw:     rand.Float64,
		logger:   logger,
	}
}

// SetWeights replaces the probability table, used by policy hot reload.
func (s *Selector) SetWeights(weights Weights) {
	if len(weights) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = cloneWeights(weights)
	s.logger.Info("action weights updated", "weights", formatWeights(s.weights))
}

func (s *Selector) Weights() Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneWeights(s.weights)
}

// SelectActions draws the action kinds to attempt for one account/content
// pair. A denied admission is not a fault: it returns an empty selection with
// the blocking reason so callers treat it as "nothing to do now".
func (s *Selector) SelectActions(accountID, contentID string) Selection {
	admission := s.admitter.CanAdmit(accountID)
	if !admission.Allowed {
		s.logger.Debug("selection skipped",
			"account_id", accountID,
			"content_id", contentID,
			"reason", string(admission.Reason),
		)
		return Selection{Reason: admission.Reason}
	}

	s.mu.Lock()
	weights := cloneWeights(s.weights)
	draw := s.draw
	s.mu.Unlock()

	var actions []quota.Kind
	for _, kind := range quota.KindsByPriority {
		weight, ok := weights[kind]
		if !ok || weight <= 0 {
			continue
		}
		if weight >= 1 || draw() < weight {
			actions = append(actions, kind)
		}
	}
	if len(actions) > admission.DailyRemaining {
		actions = actions[:admission.DailyRemaining]
	}
	return Selection{Actions: actions}
}

func cloneWeights(weights Weights) Weights {
	cloned := make(Weights, len(weights))
	for kind, weight := range weights {
		cloned[kind] = weight
	}
	return cloned
}

func formatWeights(weights Weights) map[string]float64 {
	formatted := make(map[string]float64, len(weights))
	for kind, weight := range weights {
		formatted[string(kind)] = weight
	}
	return formatted
}
