package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"coachline.org/internal/engage"
	"coachline.org/internal/quota"
)

type fixture struct {
	svc        *Service
	engStore   *engage.InMemoryStore
	engagement engage.Engagement
	clock      *time.Time
}

func newFixture(t *testing.T, plans map[string]quota.Plan) *fixture {
	t.Helper()

	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &current
	nowFn := func() time.Time { return *clock }

	msgs := NewInMemoryStore()
	ledger := quota.NewLedger(msgs, quota.NewStaticEntitlements(plans), quota.WithClock(nowFn))
	engStore := engage.NewInMemoryStore()

	eng, err := engStore.Admit(context.Background(), engage.Engagement{
		ID:        "eng-1",
		CoachID:   "coach-1",
		ClientID:  "client-1",
		Status:    engage.StatusActive,
		CreatedAt: current,
	}, 0)
	if err != nil {
		t.Fatalf("seed engagement: %v", err)
	}

	return &fixture{
		svc:        NewService(msgs, ledger, engStore, WithClock(nowFn)),
		engStore:   engStore,
		engagement: eng,
		clock:      clock,
	}
}

func TestSendCreatesMessageAndCountsUsage(t *testing.T) {
	f := newFixture(t, map[string]quota.Plan{
		"client-1": {DailyLimit: 2, Scope: quota.ScopeDaily},
	})
	ctx := context.Background()

	msg, usage, err := f.svc.Send(ctx, "client-1", "eng-1", "hello coach")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.RecipientID != "coach-1" {
		t.Fatalf("unexpected recipient: %s", msg.RecipientID)
	}
	if usage.Used != 1 || usage.Remaining != 1 {
		t.Fatalf("unexpected usage after first send: %+v", usage)
	}

	_, usage, err = f.svc.Send(ctx, "client-1", "eng-1", "second")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if usage.Remaining != 0 {
		t.Fatalf("expected zero remaining, got %d", usage.Remaining)
	}

	_, _, err = f.svc.Send(ctx, "client-1", "eng-1", "third")
	var exceeded *quota.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected quota refusal, got %v", err)
	}
	if exceeded.Limit != 2 || exceeded.Remaining != 0 {
		t.Fatalf("unexpected refusal detail: %+v", exceeded)
	}
}

func TestSendQuotaResetsNextDay(t *testing.T) {
	f := newFixture(t, map[string]quota.Plan{
		"client-1": {DailyLimit: 1, Scope: quota.ScopeDaily},
	})
	ctx := context.Background()

	if _, _, err := f.svc.Send(ctx, "client-1", "eng-1", "only one today"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, _, err := f.svc.Send(ctx, "client-1", "eng-1", "refused"); err == nil {
		t.Fatal("expected quota refusal")
	}

	*f.clock = f.clock.Add(24 * time.Hour)
	if _, _, err := f.svc.Send(ctx, "client-1", "eng-1", "new day"); err != nil {
		t.Fatalf("Send after reset: %v", err)
	}
}

func TestSendCoachDirectionCountsSeparately(t *testing.T) {
	f := newFixture(t, map[string]quota.Plan{
		"client-1": {DailyLimit: 1, Scope: quota.ScopeDaily},
		"coach-1":  {DailyLimit: 1, Scope: quota.ScopeDaily},
	})
	ctx := context.Background()

	if _, _, err := f.svc.Send(ctx, "client-1", "eng-1", "from client"); err != nil {
		t.Fatalf("client send: %v", err)
	}
	// The coach's quota is independent of the client's.
	if _, _, err := f.svc.Send(ctx, "coach-1", "eng-1", "from coach"); err != nil {
		t.Fatalf("coach send: %v", err)
	}
}

func TestSendUnlimitedSubject(t *testing.T) {
	f := newFixture(t, map[string]quota.Plan{
		"client-1": {Unlimited: true},
	})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if _, _, err := f.svc.Send(ctx, "client-1", "eng-1", "spam with impunity"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
}

func TestSendRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, _, err := f.svc.Send(ctx, "client-1", "eng-unknown", "hi"); !errors.Is(err, ErrEngagementNotFound) {
		t.Fatalf("expected ErrEngagementNotFound, got %v", err)
	}
	if _, _, err := f.svc.Send(ctx, "stranger", "eng-1", "hi"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, _, err := f.svc.Send(ctx, "client-1", "eng-1", "   "); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, _, err := f.svc.Send(ctx, "client-1", "eng-1", strings.Repeat("x", 4001)); err == nil {
		t.Fatal("expected oversized body rejection")
	}
}
