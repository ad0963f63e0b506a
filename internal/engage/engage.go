// Package engage manages coaching relationships and the cardinality guard:
// a non-unlimited coach may hold at most a fixed number of engagements in an
// active state. Admission of a new engagement is a critical section; the
// store folds the fresh count and the insert into one atomic operation so
// concurrent admissions cannot overshoot the ceiling.
package engage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coachline.org/internal/ids"
	"coachline.org/internal/quota"
)

// Engagement states. Pending and active both count against the ceiling.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusArchived = "archived"
)

// DefaultMaxActive is the ceiling for coaches without an unlimited plan.
const DefaultMaxActive = 20

// ErrNotFound indicates the engagement does not exist.
var ErrNotFound = errors.New("engage: not found")

// Engagement is a coaching relationship between a coach and a client.
type Engagement struct {
	ID        string    `json:"id"`
	CoachID   string    `json:"coach_id"`
	ClientID  string    `json:"client_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CardinalityError is the structured admission refusal.
type CardinalityError struct {
	Limit int `json:"limit"`
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("engage: active relationship ceiling %d reached", e.Limit)
}

// Store persists engagements.
//
// Admit inserts the engagement only while the coach's active count is under
// maxActive, as one atomic operation; maxActive <= 0 disables the ceiling.
// An existing (coach, client) pair is returned as-is rather than duplicated.
type Store interface {
	Admit(ctx context.Context, e Engagement, maxActive int) (Engagement, error)
	Get(ctx context.Context, id string) (Engagement, error)
	Find(ctx context.Context, coachID, clientID string) (Engagement, error)
	CountActive(ctx context.Context, coachID string) (int, error)
}

// Service applies plan entitlements on top of the store's admission.
type Service struct {
	store     Store
	ent       quota.Entitlements
	maxActive int
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxActive overrides the default ceiling.
func WithMaxActive(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxActive = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, ent quota.Entitlements, opts ...Option) *Service {
	s := &Service{
		store:     store,
		ent:       ent,
		maxActive: DefaultMaxActive,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit creates a new engagement between coach and client, enforcing the
// coach's relationship ceiling unless the coach's plan is unlimited.
func (s *Service) Admit(ctx context.Context, coachID, clientID string) (Engagement, error) {
	coachID = strings.TrimSpace(coachID)
	clientID = strings.TrimSpace(clientID)
	if coachID == "" || clientID == "" {
		return Engagement{}, errors.New("engage: coach and client are required")
	}
	if coachID == clientID {
		return Engagement{}, errors.New("engage: coach and client must differ")
	}

	ceiling := s.maxActive
	plan, err := s.ent.Resolve(ctx, coachID, "engagements", s.now().UTC())
	if err != nil {
		return Engagement{}, fmt.Errorf("resolve entitlement: %w", err)
	}
	if plan.Unlimited {
		ceiling = 0
	}

	return s.store.Admit(ctx, Engagement{
		ID:        ids.New(),
		CoachID:   coachID,
		ClientID:  clientID,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}, ceiling)
}

// Get resolves an engagement by id.
func (s *Service) Get(ctx context.Context, id string) (Engagement, error) {
	return s.store.Get(ctx, id)
}

// InMemoryStore implements Store with in-process concurrency safety.
// NOTE: tests and single-instance dev runs only.
type InMemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Engagement
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*Engagement)}
}

func (s *InMemoryStore) Admit(ctx context.Context, e Engagement, maxActive int) (Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.CoachID == e.CoachID && existing.ClientID == e.ClientID {
			return *existing, nil
		}
	}
	if maxActive > 0 && s.countActiveLocked(e.CoachID) >= maxActive {
		return Engagement{}, &CardinalityError{Limit: maxActive}
	}
	copied := e
	s.byID[e.ID] = &copied
	return e, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return Engagement{}, ErrNotFound
	}
	return *e, nil
}

func (s *InMemoryStore) Find(ctx context.Context, coachID, clientID string) (Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.byID {
		if e.CoachID == coachID && e.ClientID == clientID {
			return *e, nil
		}
	}
	return Engagement{}, ErrNotFound
}

func (s *InMemoryStore) CountActive(ctx context.Context, coachID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(coachID), nil
}

func (s *InMemoryStore) countActiveLocked(coachID string) int {
	count := 0
	for _, e := range s.byID {
		if e.CoachID == coachID && (e.Status == StatusActive || e.Status == StatusPending) {
			count++
		}
	}
	return count
}

// SetStatus transitions an engagement's state. Used by admin tooling and tests.
func (s *InMemoryStore) SetStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		e.Status = status
	}
}
