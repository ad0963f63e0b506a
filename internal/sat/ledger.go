package sat

import (
	"context"
	"sync"
	"time"
)

// Record is the durable replay row backing a minted token.
type Record struct {
	TokenID     string
	Subject     string
	Feature     string
	BoundMethod string
	BoundPath   string
	SessionID   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// ReplayLedger is the single source of truth for whether a token was spent.
//
// Claim must be a single conditional write against the store: among any
// number of concurrent calls for the same token id, exactly one returns true.
type ReplayLedger interface {
	Insert(ctx context.Context, rec Record) error
	Claim(ctx context.Context, tokenID, subject, method, path string, now time.Time) (bool, error)
	// PurgeExpired removes records whose expiry is in the past. Hygiene only;
	// a consumed or expired record can never re-authorize.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// InMemoryLedger implements ReplayLedger with in-process concurrency safety.
// NOTE: suitable for tests and single-instance dev runs only; multi-instance
// deployments must share the Postgres ledger.
type InMemoryLedger struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewInMemoryLedger creates an empty ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{records: make(map[string]*Record)}
}

func (l *InMemoryLedger) Insert(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := rec
	l.records[rec.TokenID] = &copied
	return nil
}

func (l *InMemoryLedger) Claim(ctx context.Context, tokenID, subject, method, path string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[tokenID]
	if !ok {
		return false, nil
	}
	if rec.ConsumedAt != nil {
		return false, nil
	}
	if !now.Before(rec.ExpiresAt) {
		return false, nil
	}
	if rec.Subject != subject || rec.BoundMethod != method || rec.BoundPath != path {
		return false, nil
	}
	consumed := now
	rec.ConsumedAt = &consumed
	return true, nil
}

func (l *InMemoryLedger) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var purged int64
	for id, rec := range l.records {
		if rec.ExpiresAt.Before(before) {
			delete(l.records, id)
			purged++
		}
	}
	return purged, nil
}
