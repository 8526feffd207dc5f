package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one entry in a page's ephemeral discussion channel. Messages
// are append-only: there is no edit or delete, only retention-based expiry.
type Message struct {
	ID             string `db:"id"`
	PageID         int64  `db:"page_id"`
	AuthorID       string `db:"author_id"`
	AuthorName     string `db:"author_name"`
	Body           string `db:"body"`
	SectionContext string `db:"section_context"`
	CreatedAt      int64  `db:"created_at"`
}

// CreatedTime returns the message timestamp as a time.Time.
func (m *Message) CreatedTime() time.Time { return time.Unix(m.CreatedAt, 0).UTC() }

// PostMessage appends a message to the page's channel and trims entries
// older than the retention bound on the way.
func (s *Store) PostMessage(ctx context.Context, m *Message, retention time.Duration) error {
	now := s.now()
	m.ID = uuid.NewString()
	m.CreatedAt = now.Unix()

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO discussion_messages (id, page_id, author_id, author_name, body, section_context, created_at)
		VALUES (:id, :page_id, :author_id, :author_name, :body, :section_context, :created_at)`, m); err != nil {
		return fmt.Errorf("failed to post discussion message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM discussion_messages WHERE page_id = ? AND created_at < ?`,
		m.PageID, now.Add(-retention).Unix()); err != nil {
		return fmt.Errorf("failed to trim discussion messages: %w", err)
	}
	return nil
}

// ListMessages returns a page's messages, most recent first, capped.
func (s *Store) ListMessages(ctx context.Context, pageID int64, limit int) ([]*Message, error) {
	var messages []*Message
	if err := s.db.SelectContext(ctx, &messages,
		`SELECT * FROM discussion_messages WHERE page_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, pageID, limit); err != nil {
		return nil, fmt.Errorf("failed to list discussion messages: %w", err)
	}
	return messages, nil
}
