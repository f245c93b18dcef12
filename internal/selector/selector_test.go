package selector

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dwizi/boost-runtime/internal/quota"
)

type fakeAdmitter struct {
	admission quota.Admission
}

func (f *fakeAdmitter) CanAdmit(accountID string) quota.Admission {
	return f.admission
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSelectActionsReturnsReasonWhenDenied(t *testing.T) {
	admitter := &fakeAdmitter{admission: quota.Admission{Reason: quota.ReasonGlobalExhausted}}
	sel := New(admitter, nil, discardLogger())
	selection := sel.SelectActions("acct-1", "content-1")
	if len(selection.Actions) != 0 {
		t.Fatalf("expected empty selection, got %v", selection.Actions)
	}
	if selection.Reason != quota.ReasonGlobalExhausted {
		t.Fatalf("expected global_exhausted reason, got %s", selection.Reason)
	}
}

func TestSelectActionsDrawsInPriorityOrder(t *testing.T) {
	admitter := &fakeAdmitter{admission: quota.Admission{Allowed: true, DailyRemaining: 10}}
	sel := New(admitter, Weights{
		quota.KindReply:  1.0,
		quota.KindLike:   0.5,
		quota.KindRepost: 0.5,
	}, discardLogger())
	sel.draw = func() float64 { return 0.4 } // below both 0.5 weights

	selection := sel.SelectActions("acct-1", "content-1")
	expected := []quota.Kind{quota.KindReply, quota.KindLike, quota.KindRepost}
	if len(selection.Actions) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, selection.Actions)
	}
	for i, kind := range expected {
		if selection.Actions[i] != kind {
			t.Fatalf("expected %s at position %d, got %s", kind, i, selection.Actions[i])
		}
	}
}

func TestSelectActionsSkipsLosingDraws(t *testing.T) {
	admitter := &fakeAdmitter{admission: quota.Admission{Allowed: true, DailyRemaining: 10}}
	sel := New(admitter, nil, discardLogger())
	sel.draw = func() float64 { return 0.9 } // loses against 0.3 and 0.05

	selection := sel.SelectActions("acct-1", "content-1")
	if len(selection.Actions) != 1 || selection.Actions[0] != quota.KindReply {
		t.Fatalf("expected only reply, got %v", selection.Actions)
	}
}

func TestSelectActionsTruncatesToDailyRemaining(t *testing.T) {
	admitter := &fakeAdmitter{admission: quota.Admission{Allowed: true, DailyRemaining: 1}}
	sel := New(admitter, Weights{
		quota.KindReply:  1.0,
		quota.KindLike:   1.0,
		quota.KindRepost: 1.0,
	}, discardLogger())

	selection := sel.SelectActions("acct-1", "content-1")
	if len(selection.Actions) != 1 {
		t.Fatalf("expected truncation to one action, got %v", selection.Actions)
	}
	if selection.Actions[0] != quota.KindReply {
		t.Fatalf("expected the highest priority kind to survive truncation, got %s", selection.Actions[0])
	}
}

func TestSetWeightsReplacesTable(t *testing.T) {
	admitter := &fakeAdmitter{admission: quota.Admission{Allowed: true, DailyRemaining: 10}}
	sel := New(admitter, nil, discardLogger())
	sel.SetWeights(Weights{quota.KindLike: 1.0})
	sel.draw = func() float64 { return 0.5 }

	selection := sel.SelectActions("acct-1", "content-1")
	if len(selection.Actions) != 1 || selection.Actions[0] != quota.KindLike {
		t.Fatalf("expected only like after weight update, got %v", selection.Actions)
	}
}
