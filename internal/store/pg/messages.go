package pg

import (
	"context"
	"database/sql"
	"time"

	"coachline.org/internal/chat"
	"coachline.org/internal/quota"
)

// MessageStore persists chat messages. The same rows are the quota's count
// source, so quota usage and delivered messages cannot disagree.
type MessageStore struct {
	db *sql.DB
}

var (
	_ chat.Store  = (*MessageStore)(nil)
	_ quota.Store = (*MessageStore)(nil)
)

func (s *MessageStore) Create(ctx context.Context, msg *chat.Message) error {
	_, err := s.db.ExecContext(ctx, `
		insert into messages(id, engagement_id, sender_id, recipient_id, body, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, msg.ID, msg.EngagementID, msg.SenderID, msg.RecipientID, msg.Body, msg.CreatedAt)
	return err
}

func (s *MessageStore) CountForDay(ctx context.Context, senderID, recipientID string, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from messages
		where sender_id = $1 and recipient_id = $2 and created_at >= $3 and created_at < $4
	`, senderID, recipientID, from, to).Scan(&count)
	return count, err
}

// CountActions adapts the store to the quota ledger: the resource a message
// quota applies to is the recipient.
func (s *MessageStore) CountActions(ctx context.Context, subject, resource string, from, to time.Time) (int, error) {
	return s.CountForDay(ctx, subject, resource, from, to)
}

// ListForEngagement returns the most recent messages in an engagement,
// newest first.
func (s *MessageStore) ListForEngagement(ctx context.Context, engagementID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, engagement_id, sender_id, recipient_id, body, created_at
		from messages
		where engagement_id = $1
		order by created_at desc
		limit $2
	`, engagementID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.EngagementID, &m.SenderID, &m.RecipientID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
