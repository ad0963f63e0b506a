package pg

import (
	"context"
	"database/sql"
	"errors"

	"coachline.org/internal/engage"
)

// EngagementStore persists coaching relationships and enforces the coach's
// active ceiling at admission time.
type EngagementStore struct {
	db *sql.DB
}

var _ engage.Store = (*EngagementStore)(nil)

// Admit inserts the engagement only while the coach's count of pending or
// active engagements is under maxActive. Under READ COMMITTED the count
// subquery alone cannot see a concurrent uncommitted admission for a
// different client, so the transaction first takes a per-coach advisory lock:
// admissions for one coach serialize, and the count the insert is gated on is
// always current. Zero rows means either the ceiling held or the pair already
// exists; the in-transaction lookup settles which.
func (s *EngagementStore) Admit(ctx context.Context, e engage.Engagement, maxActive int) (engage.Engagement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engage.Engagement{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, e.CoachID); err != nil {
		return engage.Engagement{}, err
	}

	res, err := tx.ExecContext(ctx, `
		insert into engagements(id, coach_id, client_id, status, created_at)
		select $1, $2, $3, $4, $5
		where $6 <= 0 or (
			select count(*) from engagements
			where coach_id = $2 and status in ('pending','active')
		) < $6
		on conflict (coach_id, client_id) do nothing
	`, e.ID, e.CoachID, e.ClientID, e.Status, e.CreatedAt, maxActive)
	if err != nil {
		return engage.Engagement{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return engage.Engagement{}, err
	}
	if affected == 1 {
		if err := tx.Commit(); err != nil {
			return engage.Engagement{}, err
		}
		return e, nil
	}

	existing, err := s.scanOne(tx.QueryRowContext(ctx, `
		select id, coach_id, client_id, status, created_at
		from engagements where coach_id = $1 and client_id = $2
	`, e.CoachID, e.ClientID))
	if err == nil {
		if err := tx.Commit(); err != nil {
			return engage.Engagement{}, err
		}
		return existing, nil
	}
	if errors.Is(err, engage.ErrNotFound) {
		return engage.Engagement{}, &engage.CardinalityError{Limit: maxActive}
	}
	return engage.Engagement{}, err
}

func (s *EngagementStore) Get(ctx context.Context, id string) (engage.Engagement, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, coach_id, client_id, status, created_at
		from engagements where id = $1
	`, id))
}

func (s *EngagementStore) Find(ctx context.Context, coachID, clientID string) (engage.Engagement, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		select id, coach_id, client_id, status, created_at
		from engagements where coach_id = $1 and client_id = $2
	`, coachID, clientID))
}

func (s *EngagementStore) CountActive(ctx context.Context, coachID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from engagements
		where coach_id = $1 and status in ('pending','active')
	`, coachID).Scan(&count)
	return count, err
}

// SetStatus transitions an engagement's state.
func (s *EngagementStore) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `update engagements set status = $2 where id = $1`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engage.ErrNotFound
	}
	return nil
}

func (s *EngagementStore) scanOne(row *sql.Row) (engage.Engagement, error) {
	var e engage.Engagement
	err := row.Scan(&e.ID, &e.CoachID, &e.ClientID, &e.Status, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return engage.Engagement{}, engage.ErrNotFound
	}
	if err != nil {
		return engage.Engagement{}, err
	}
	return e, nil
}
