// Package chat implements the protected messaging action. A message row is
// the unit the daily quota counts: creating one is what raises usage, so the
// count can never drift from the records that actually exist.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coachline.org/internal/engage"
	"coachline.org/internal/ids"
	"coachline.org/internal/quota"
)

// Errors surfaced to the transport layer.
var (
	ErrEngagementNotFound = errors.New("chat: engagement not found")
	ErrNotParticipant     = errors.New("chat: sender is not part of the engagement")
	ErrEmptyBody          = errors.New("chat: message body is required")
	ErrBodyTooLong        = errors.New("chat: message body exceeds the size limit")
)

const maxBodyLength = 4000

// Message is a delivered chat message inside an engagement.
type Message struct {
	ID           string    `json:"id"`
	EngagementID string    `json:"engagement_id"`
	SenderID     string    `json:"sender_id"`
	RecipientID  string    `json:"recipient_id"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists messages. CountForDay doubles as the quota ledger's count
// source: usage for (sender, recipient) is the number of message rows in the
// window.
type Store interface {
	Create(ctx context.Context, msg *Message) error
	CountForDay(ctx context.Context, senderID, recipientID string, from, to time.Time) (int, error)
}

// Service sends messages behind the quota gate. The action-token gate runs
// before this layer; by the time Send is called the request is authorized.
type Service struct {
	msgs        Store
	quotaLedger *quota.Ledger
	engagements engage.Store
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(msgs Store, quotaLedger *quota.Ledger, engagements engage.Store, opts ...Option) *Service {
	s := &Service{
		msgs:        msgs,
		quotaLedger: quotaLedger,
		engagements: engagements,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send validates the engagement, checks the sender's daily quota against the
// recipient, and creates the message. The quota check precedes the insert;
// the insert is the mutation whose completion raises usage. Messaging inside
// an existing engagement is never blocked by the coach's relationship
// ceiling, only by quota.
func (s *Service) Send(ctx context.Context, senderID, engagementID, body string) (Message, quota.Usage, error) {
	senderID = strings.TrimSpace(senderID)
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, quota.Usage{}, ErrEmptyBody
	}
	if len(body) > maxBodyLength {
		return Message{}, quota.Usage{}, ErrBodyTooLong
	}

	eng, err := s.engagements.Get(ctx, strings.TrimSpace(engagementID))
	if err != nil {
		if errors.Is(err, engage.ErrNotFound) {
			return Message{}, quota.Usage{}, ErrEngagementNotFound
		}
		return Message{}, quota.Usage{}, err
	}

	var recipientID string
	switch senderID {
	case eng.CoachID:
		recipientID = eng.ClientID
	case eng.ClientID:
		recipientID = eng.CoachID
	default:
		return Message{}, quota.Usage{}, ErrNotParticipant
	}

	usage, err := s.quotaLedger.Check(ctx, senderID, recipientID)
	if err != nil {
		return Message{}, usage, err
	}

	msg := Message{
		ID:           ids.New(),
		EngagementID: eng.ID,
		SenderID:     senderID,
		RecipientID:  recipientID,
		Body:         body,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.msgs.Create(ctx, &msg); err != nil {
		return Message{}, usage, fmt.Errorf("create message: %w", err)
	}

	usage.Used++
	if !usage.Unlimited && usage.Remaining > 0 {
		usage.Remaining--
	}
	return msg, usage, nil
}

// InMemoryStore implements Store with in-process concurrency safety.
// NOTE: tests and single-instance dev runs only.
type InMemoryStore struct {
	mu   sync.Mutex
	msgs []Message
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Create(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, *msg)
	return nil
}

func (s *InMemoryStore) CountForDay(ctx context.Context, senderID, recipientID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.msgs {
		if m.SenderID == senderID && m.RecipientID == recipientID && !m.CreatedAt.Before(from) && m.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

// CountActions adapts the message store to the quota ledger's Store
// interface: the resource a quota applies to is the recipient.
func (s *InMemoryStore) CountActions(ctx context.Context, subject, resource string, from, to time.Time) (int, error) {
	return s.CountForDay(ctx, subject, resource, from, to)
}
