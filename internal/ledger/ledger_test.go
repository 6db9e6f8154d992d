package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"powerfive/api/internal/store"
)

func newLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	l := New(mem).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	return l, mem
}

func TestLogActionFreezesWeightAtLogTime(t *testing.T) {
	l, mem := newLedger(t)
	ctx := context.Background()

	if _, err := l.PutRule(ctx, "doorKnock", 2, ""); err != nil {
		t.Fatalf("PutRule() error = %v", err)
	}
	first, err := l.LogAction(ctx, "psn_1", "doorKnock", time.Time{})
	if err != nil {
		t.Fatalf("LogAction() error = %v", err)
	}
	if first.Weight != 2 {
		t.Fatalf("first weight = %v, want 2", first.Weight)
	}

	// Raising the rule must not rewrite history: only new rows carry the
	// new weight.
	if _, err := l.PutRule(ctx, "doorKnock", 10, "rate hike"); err != nil {
		t.Fatalf("PutRule() error = %v", err)
	}
	second, err := l.LogAction(ctx, "psn_1", "doorKnock", time.Time{})
	if err != nil {
		t.Fatalf("LogAction() error = %v", err)
	}
	if second.Weight != 10 {
		t.Fatalf("second weight = %v, want 10", second.Weight)
	}

	sum, err := mem.ActionWeightSum(ctx, "psn_1")
	if err != nil {
		t.Fatalf("ActionWeightSum() error = %v", err)
	}
	if sum != 12 {
		t.Fatalf("weight sum = %v, want 12", sum)
	}
}

func TestLogActionRejectsUnknownActionType(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.LogAction(context.Background(), "psn_1", "interpretiveDance", time.Time{})
	if !errors.Is(err, ErrUnknownActionType) {
		t.Fatalf("LogAction() unknown type: got %v, want ErrUnknownActionType", err)
	}
}

func TestLogActionFiresInvalidationHook(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	var mutated []string
	l.OnMutate(func(_ context.Context, personID string) {
		mutated = append(mutated, personID)
	})

	if _, err := l.PutRule(ctx, "doorKnock", 2, ""); err != nil {
		t.Fatalf("PutRule() error = %v", err)
	}
	if _, err := l.LogAction(ctx, "psn_1", "doorKnock", time.Time{}); err != nil {
		t.Fatalf("LogAction() error = %v", err)
	}
	if _, err := l.LogVoterContact(ctx, "psn_2", "VOTER-9", "Travis", time.Time{}); err != nil {
		t.Fatalf("LogVoterContact() error = %v", err)
	}

	if len(mutated) != 2 || mutated[0] != "psn_1" || mutated[1] != "psn_2" {
		t.Fatalf("unexpected mutation hook calls: %v", mutated)
	}
}

func TestLogVoterContactKeepsDuplicates(t *testing.T) {
	l, mem := newLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.LogVoterContact(ctx, "psn_1", "VOTER-9", "Travis", time.Time{}); err != nil {
			t.Fatalf("LogVoterContact() error = %v", err)
		}
	}

	// The ledger records every contact; uniqueness is the aggregator's job.
	ids, err := mem.VoterIDsContactedBy(ctx, "psn_1")
	if err != nil {
		t.Fatalf("VoterIDsContactedBy() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "VOTER-9" {
		t.Fatalf("distinct voter ids = %v, want [VOTER-9]", ids)
	}
}

func TestPutRuleRequiresActionType(t *testing.T) {
	l, _ := newLedger(t)
	if _, err := l.PutRule(context.Background(), "", 1, ""); err == nil {
		t.Fatal("expected PutRule() to reject an empty action type")
	}
}

func TestRulesListsTable(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	if _, err := l.PutRule(ctx, "doorKnock", 2, ""); err != nil {
		t.Fatalf("PutRule() error = %v", err)
	}
	if _, err := l.PutRule(ctx, "phoneBankShift", 3, ""); err != nil {
		t.Fatalf("PutRule() error = %v", err)
	}

	rules, err := l.Rules(ctx)
	if err != nil {
		t.Fatalf("Rules() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
}
