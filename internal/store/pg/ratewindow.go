package pg

import (
	"context"
	"database/sql"
	"time"

	"coachline.org/internal/ratelimit"
)

// RateWindowStore is the shared fixed-window limiter. The counter upsert is
// one statement, so instances racing on the same bucket serialize in the
// database and the budget holds fleet-wide.
type RateWindowStore struct {
	db     *sql.DB
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ ratelimit.Limiter = (*RateWindowStore)(nil)

// WithClock overrides the time source (useful for tests).
func (s *RateWindowStore) WithClock(fn func() time.Time) *RateWindowStore {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Take increments the key's counter for the current window and reports the
// budget. The counter keeps rising past the limit; telemetry clamps to zero
// so denied callers still see an honest remaining count.
func (s *RateWindowStore) Take(ctx context.Context, key string) (ratelimit.Result, error) {
	now := s.now()
	start := now.Truncate(s.window)

	var count int
	err := s.db.QueryRowContext(ctx, `
		insert into sat_rate_windows(bucket, window_start, count)
		values ($1, $2, 1)
		on conflict (bucket, window_start) do update
		set count = sat_rate_windows.count + 1
		returning count
	`, key, start).Scan(&count)
	if err != nil {
		return ratelimit.Result{}, err
	}

	res := ratelimit.Result{
		Limit: s.limit,
		Reset: start.Add(s.window).Sub(now),
	}
	if count <= s.limit {
		res.Allowed = true
		res.Remaining = s.limit - count
	}
	return res, nil
}

// Sweep deletes windows that closed before the given time.
func (s *RateWindowStore) Sweep(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sat_rate_windows where window_start < $1`, before.Add(-s.window))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
