// Package pg backs the replay ledger, rate windows, quota counts and
// engagement registry with PostgreSQL. Gating writes are conditional
// statements whose row count is the decision; engagement admission
// additionally serializes per coach with an advisory lock. Contention lives
// in the database, never in process-local locks, so the service can run as
// multiple stateless instances.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store bundles the per-concern stores over one connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Replay returns the replay-ledger store.
func (s *Store) Replay() *ReplayStore { return &ReplayStore{db: s.db} }

// Messages returns the message store.
func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.db} }

// Engagements returns the engagement store.
func (s *Store) Engagements() *EngagementStore { return &EngagementStore{db: s.db} }

// Entitlements returns the plan resolver.
func (s *Store) Entitlements() *EntitlementStore { return &EntitlementStore{db: s.db} }

// RateWindows returns a fixed-window limiter with the given budget.
func (s *Store) RateWindows(limit int, window time.Duration) *RateWindowStore {
	return &RateWindowStore{db: s.db, limit: limit, window: window, now: time.Now}
}
