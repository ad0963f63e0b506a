// Package quota enforces the daily cap on protected actions per
// (subject, resource). Usage is a count of completed business records inside
// the rolling UTC calendar-day window, never a separately maintained counter,
// so partial failures cannot leave the count out of sync with reality.
package quota

import (
	"context"
	"fmt"
	"time"
)

// Scopes reported on rejection.
const (
	ScopeDaily = "daily"
	ScopeTrial = "trial"
)

// DefaultDailyLimit applies when the entitlement resolver has no explicit
// plan for the subject.
const DefaultDailyLimit = 10

// Plan is the entitlement resolved for a subject.
type Plan struct {
	Unlimited  bool
	DailyLimit int
	Scope      string
}

// Entitlements resolves what a subject's plan permits. The concrete resolver
// lives outside this package (a Postgres table, or a static map in tests).
type Entitlements interface {
	Resolve(ctx context.Context, subject, resource string, now time.Time) (Plan, error)
}

// Store counts completed actions for a subject/resource inside [from, to).
type Store interface {
	CountActions(ctx context.Context, subject, resource string, from, to time.Time) (int, error)
}

// Usage is a snapshot of quota state, detailed enough for a caller to render
// UI without a second round trip.
type Usage struct {
	Scope     string    `json:"scope"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
	ResetsAt  time.Time `json:"resets_at"`
}

// ExceededError is the structured quota refusal.
type ExceededError struct {
	Scope     string `json:"scope"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: %s limit %d exceeded (used %d)", e.Scope, e.Limit, e.Used)
}

// Ledger computes usage and gates mutating actions against the plan limit.
type Ledger struct {
	store Store
	ent   Entitlements
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs a Ledger.
func NewLedger(store Store, ent Entitlements, opts ...Option) *Ledger {
	l := &Ledger{store: store, ent: ent, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DayWindow returns the UTC calendar-day window containing now.
func DayWindow(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// Usage reports the current window's usage for (subject, resource).
func (l *Ledger) Usage(ctx context.Context, subject, resource string) (Usage, error) {
	now := l.now().UTC()
	start, end := DayWindow(now)

	plan, err := l.ent.Resolve(ctx, subject, resource, now)
	if err != nil {
		return Usage{}, fmt.Errorf("resolve entitlement: %w", err)
	}
	used, err := l.store.CountActions(ctx, subject, resource, start, end)
	if err != nil {
		return Usage{}, fmt.Errorf("count actions: %w", err)
	}

	usage := Usage{
		Scope:     plan.Scope,
		Limit:     plan.DailyLimit,
		Used:      used,
		Unlimited: plan.Unlimited,
		ResetsAt:  end,
	}
	if usage.Scope == "" {
		usage.Scope = ScopeDaily
	}
	if !plan.Unlimited {
		usage.Remaining = plan.DailyLimit - used
		if usage.Remaining < 0 {
			usage.Remaining = 0
		}
	}
	return usage, nil
}

// Check gates a mutating action: it returns the usage snapshot when the
// subject is under the limit and an ExceededError otherwise. The caller
// performs the action afterwards; the action's own record is what raises
// the count. Two concurrent requests for one subject can both pass and
// overshoot by one; that imprecision is accepted for this gate.
func (l *Ledger) Check(ctx context.Context, subject, resource string) (Usage, error) {
	usage, err := l.Usage(ctx, subject, resource)
	if err != nil {
		return Usage{}, err
	}
	if usage.Unlimited {
		return usage, nil
	}
	if usage.Used >= usage.Limit {
		return usage, &ExceededError{
			Scope:     usage.Scope,
			Limit:     usage.Limit,
			Used:      usage.Used,
			Remaining: 0,
		}
	}
	return usage, nil
}

// StaticEntitlements is an in-memory resolver keyed by subject. Subjects
// without an entry get the default plan. Used by tests and dev runs; the
// production resolver reads the entitlements table.
type StaticEntitlements struct {
	Plans   map[string]Plan
	Default Plan
}

// NewStaticEntitlements builds a resolver with the standard default plan.
func NewStaticEntitlements(plans map[string]Plan) *StaticEntitlements {
	return &StaticEntitlements{
		Plans:   plans,
		Default: Plan{DailyLimit: DefaultDailyLimit, Scope: ScopeDaily},
	}
}

func (s *StaticEntitlements) Resolve(ctx context.Context, subject, resource string, now time.Time) (Plan, error) {
	if plan, ok := s.Plans[subject]; ok {
		return plan, nil
	}
	return s.Default, nil
}
