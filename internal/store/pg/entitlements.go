package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"coachline.org/internal/quota"
)

// EntitlementStore resolves a subject's plan from the entitlements table.
// Subjects without a live row get the default daily plan.
type EntitlementStore struct {
	db *sql.DB
}

var _ quota.Entitlements = (*EntitlementStore)(nil)

func (s *EntitlementStore) Resolve(ctx context.Context, subject, resource string, now time.Time) (quota.Plan, error) {
	var plan quota.Plan
	err := s.db.QueryRowContext(ctx, `
		select unlimited, daily_limit, scope from entitlements
		where subject = $1 and (expires_at is null or expires_at > $2)
	`, subject, now).Scan(&plan.Unlimited, &plan.DailyLimit, &plan.Scope)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.Plan{DailyLimit: quota.DefaultDailyLimit, Scope: quota.ScopeDaily}, nil
	}
	if err != nil {
		return quota.Plan{}, err
	}
	if plan.Scope == "" {
		plan.Scope = quota.ScopeDaily
	}
	return plan, nil
}

// Grant upserts a subject's plan. Admin tooling and seeds use it.
func (s *EntitlementStore) Grant(ctx context.Context, subject string, plan quota.Plan, expiresAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into entitlements(subject, unlimited, daily_limit, scope, expires_at)
		values ($1,$2,$3,$4,$5)
		on conflict (subject) do update
		set unlimited = excluded.unlimited,
		    daily_limit = excluded.daily_limit,
		    scope = excluded.scope,
		    expires_at = excluded.expires_at
	`, subject, plan.Unlimited, plan.DailyLimit, plan.Scope, expiresAt)
	return err
}
