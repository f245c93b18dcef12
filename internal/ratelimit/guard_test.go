package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGuard(logger *slog.Logger) (*Guard, *time.Time) {
	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	guard := NewGuard(DefaultConfig(), logger)
	guard.now = func() time.Time { return current }
	return guard, &current
}

func TestThrottleBackoffGrowth(t *testing.T) {
	guard, _ := newTestGuard(discardLogger())
	expected := []time.Duration{
		15 * time.Minute,
		30 * time.Minute,
		60 * time.Minute,
		120 * time.Minute,
		240 * time.Minute,
		240 * time.Minute,
		240 * time.Minute,
	}
	for i, want := range expected {
		result := guard.RecordThrottleError("acct-1")
		if result.Delay != want {
			t.Fatalf("error %d: expected delay %s, got %s", i+1, want, result.Delay)
		}
		if result.ErrorCount != i+1 {
			t.Fatalf("error %d: expected count %d, got %d", i+1, i+1, result.ErrorCount)
		}
		shouldDisable := i+1 >= DefaultConfig().ThrottleMaxRetries
		if result.ShouldDisable != shouldDisable {
			t.Fatalf("error %d: expected shouldDisable=%v, got %v", i+1, shouldDisable, result.ShouldDisable)
		}
	}
}

func TestThrottleWindowReset(t *testing.T) {
	guard, current := newTestGuard(discardLogger())
	guard.RecordThrottleError("acct-1")
	guard.RecordThrottleError("acct-1")

	*current = current.Add(25 * time.Hour)
	result := guard.RecordThrottleError("acct-1")
	if result.ErrorCount != 1 || result.Delay != 15*time.Minute {
		t.Fatalf("expected fresh tracker after reset window, got %+v", result)
	}
}

func TestAuthPauseIsFixedAndThresholdsEscalate(t *testing.T) {
	guard, _ := newTestGuard(discardLogger())
	for i := 1; i <= 6; i++ {
		result := guard.RecordAuthError("acct-1")
		if result.Pause != 15*time.Minute {
			t.Fatalf("error %d: expected fixed 15m pause, got %s", i, result.Pause)
		}
		if result.NeedsAttention != (i >= 3) {
			t.Fatalf("error %d: unexpected needsAttention=%v", i, result.NeedsAttention)
		}
		if result.Critical != (i >= 5) {
			t.Fatalf("error %d: unexpected critical=%v", i, result.Critical)
		}
		if !guard.IsMuted("acct-1") {
			t.Fatalf("error %d: expected account muted", i)
		}
	}
}

func TestTrackersAreIndependent(t *testing.T) {
	guard, _ := newTestGuard(discardLogger())
	guard.RecordThrottleError("acct-1")
	guard.RecordThrottleError("acct-1")
	result := guard.RecordAuthError("acct-1")
	if result.ErrorCount != 1 {
		t.Fatalf("expected auth tracker to start at 1, got %d", result.ErrorCount)
	}
}

type countingHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *countingHandler) Enabled(ctx context.Context, level slog.Level) bool { return true }

func (h *countingHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, record.Message)
	return nil
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(name string) slog.Handler       { return h }

func (h *countingHandler) count(message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, m := range h.messages {
		if strings.Contains(m, message) {
			total++
		}
	}
	return total
}

func TestMuteLazyEvictionLogsOneUnmute(t *testing.T) {
	handler := &countingHandler{}
	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	guard := NewGuard(DefaultConfig(), slog.New(handler))
	guard.now = func() time.Time { return current }

	guard.RecordThrottleError("acct-1")
	if !guard.IsMuted("acct-1") {
		t.Fatal("expected account muted right after throttle")
	}
	if got := handler.count("unmuted"); got != 0 {
		t.Fatalf("expected no unmute event yet, got %d", got)
	}

	current = current.Add(16 * time.Minute)
	if guard.IsMuted("acct-1") {
		t.Fatal("expected mute expired")
	}
	if guard.IsMuted("acct-1") {
		t.Fatal("expected account to stay unmuted")
	}
	if got := handler.count("unmuted"); got != 1 {
		t.Fatalf("expected exactly one unmute event, got %d", got)
	}
}

func TestMuteRemaining(t *testing.T) {
	guard, current := newTestGuard(discardLogger())
	guard.RecordThrottleError("acct-1")
	remaining, muted := guard.MuteRemaining("acct-1")
	if !muted || remaining != 15*time.Minute {
		t.Fatalf("expected 15m remaining, got %s muted=%v", remaining, muted)
	}
	*current = current.Add(20 * time.Minute)
	if _, muted := guard.MuteRemaining("acct-1"); muted {
		t.Fatal("expected mute expired")
	}
	if len(guard.Mutes()) != 0 {
		t.Fatalf("expected empty mute table, got %v", guard.Mutes())
	}
}
