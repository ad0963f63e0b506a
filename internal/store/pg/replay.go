package pg

import (
	"context"
	"database/sql"
	"time"

	"coachline.org/internal/sat"
)

// ReplayStore is the durable replay ledger.
type ReplayStore struct {
	db *sql.DB
}

var _ sat.ReplayLedger = (*ReplayStore)(nil)

func (s *ReplayStore) Insert(ctx context.Context, rec sat.Record) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sat_tokens(token_id, subject, feature, bound_method, bound_path, session_id, issued_at, expires_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8)
	`, rec.TokenID, rec.Subject, rec.Feature, rec.BoundMethod, rec.BoundPath, rec.SessionID, rec.IssuedAt, rec.ExpiresAt)
	return err
}

// Claim transitions the record from unconsumed to consumed in one
// conditional UPDATE. The row count is the whole answer: zero means another
// caller won, the token expired, or the binding did not match. No
// read-then-write pair may replace this statement.
func (s *ReplayStore) Claim(ctx context.Context, tokenID, subject, method, path string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update sat_tokens
		set consumed_at = $5
		where token_id = $1
		  and subject = $2
		  and bound_method = $3
		  and bound_path = $4
		  and consumed_at is null
		  and expires_at > $5
	`, tokenID, subject, method, path, now)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *ReplayStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sat_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
