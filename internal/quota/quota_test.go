package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// countingStore counts recorded actions per subject/resource/window in memory.
type countingStore struct {
	mu      sync.Mutex
	actions []action
}

type action struct {
	subject  string
	resource string
	at       time.Time
}

func (s *countingStore) record(subject, resource string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action{subject: subject, resource: resource, at: at})
}

func (s *countingStore) CountActions(ctx context.Context, subject, resource string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.actions {
		if a.subject == subject && a.resource == resource && !a.at.Before(from) && a.at.Before(to) {
			count++
		}
	}
	return count, nil
}

func TestDayWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 17, 45, 12, 0, time.UTC)
	start, end := DayWindow(now)
	if !start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window start: %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window end: %v", end)
	}

	// Non-UTC inputs land in the UTC day.
	loc := time.FixedZone("east", 5*3600)
	start2, _ := DayWindow(time.Date(2026, 3, 2, 2, 0, 0, 0, loc))
	if !start2.Equal(start) {
		t.Fatalf("expected same UTC day, got %v", start2)
	}
}

func TestCheckMonotonicUpToLimit(t *testing.T) {
	store := &countingStore{}
	ent := NewStaticEntitlements(map[string]Plan{
		"user-1": {DailyLimit: 3, Scope: ScopeDaily},
	})
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewLedger(store, ent, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		usage, err := ledger.Check(ctx, "user-1", "coach-9")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if usage.Used != i {
			t.Fatalf("expected used=%d, got %d", i, usage.Used)
		}
		store.record("user-1", "coach-9", current)
	}

	_, err := ledger.Check(ctx, "user-1", "coach-9")
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %v", err)
	}
	if exceeded.Limit != 3 || exceeded.Used != 3 || exceeded.Remaining != 0 {
		t.Fatalf("unexpected refusal detail: %+v", exceeded)
	}
	if exceeded.Scope != ScopeDaily {
		t.Fatalf("unexpected scope: %s", exceeded.Scope)
	}
}

func TestCheckResetsAtDayBoundary(t *testing.T) {
	store := &countingStore{}
	ent := NewStaticEntitlements(map[string]Plan{
		"user-1": {DailyLimit: 1, Scope: ScopeDaily},
	})
	current := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	ledger := NewLedger(store, ent, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	if _, err := ledger.Check(ctx, "user-1", "coach-9"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	store.record("user-1", "coach-9", current)

	if _, err := ledger.Check(ctx, "user-1", "coach-9"); err == nil {
		t.Fatal("expected quota refusal at limit")
	}

	current = time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC)
	usage, err := ledger.Check(ctx, "user-1", "coach-9")
	if err != nil {
		t.Fatalf("check after boundary: %v", err)
	}
	if usage.Used != 0 {
		t.Fatalf("usage must reset at UTC midnight, got %d", usage.Used)
	}
}

func TestUnlimitedPlanNeverExceeds(t *testing.T) {
	store := &countingStore{}
	ent := NewStaticEntitlements(map[string]Plan{
		"vip": {Unlimited: true, Scope: ScopeDaily},
	})
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := NewLedger(store, ent, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		usage, err := ledger.Check(ctx, "vip", "coach-9")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !usage.Unlimited {
			t.Fatal("expected unlimited usage snapshot")
		}
		store.record("vip", "coach-9", current)
	}
}

func TestTrialScopeReported(t *testing.T) {
	store := &countingStore{}
	ent := NewStaticEntitlements(map[string]Plan{
		"newbie": {DailyLimit: 0, Scope: ScopeTrial},
	})
	ledger := NewLedger(store, ent)

	_, err := ledger.Check(context.Background(), "newbie", "coach-9")
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %v", err)
	}
	if exceeded.Scope != ScopeTrial {
		t.Fatalf("expected trial scope, got %s", exceeded.Scope)
	}
}

func TestDefaultPlanApplies(t *testing.T) {
	store := &countingStore{}
	ledger := NewLedger(store, NewStaticEntitlements(nil))

	usage, err := ledger.Usage(context.Background(), "unknown", "coach-9")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.Limit != DefaultDailyLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultDailyLimit, usage.Limit)
	}
	if usage.Scope != ScopeDaily {
		t.Fatalf("expected daily scope, got %s", usage.Scope)
	}
}
