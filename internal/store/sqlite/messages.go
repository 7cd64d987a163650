package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

const messageColumns = `id, subscription_id, from_user_id, to_user_id, content, message_type, status, created_at, updated_at`

// rowid breaks created_at ties in insertion order.
const newestFirst = `ORDER BY created_at DESC, rowid DESC`

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	ts := now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = ts
	}
	m.UpdatedAt = m.CreatedAt
	if m.Status == "" {
		m.Status = models.StatusSent
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (:id, :subscription_id, :from_user_id, :to_user_id, :content, :message_type, :status, :created_at, :updated_at)
	`, m)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *Store) FindMessageByID(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := s.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	return &m, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id, status string) (*models.Message, error) {
	rank := models.StatusRank(status)
	if rank < 0 {
		return nil, store.ErrInvalidTransition
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ?
		WHERE id = ?
		  AND (CASE status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END) < ?
	`, status, now(), id, rank)
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}
	return s.FindMessageByID(ctx, id)
}

func (s *Store) FindRecentBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*models.Message, error) {
	return s.ListBySubscription(ctx, subscriptionID, limit, 0)
}

func (s *Store) ListBySubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*models.Message, error) {
	msgs := []*models.Message{}
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+` FROM messages
		WHERE subscription_id = ?
		`+newestFirst+`
		LIMIT ? OFFSET ?
	`, subscriptionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	store.Reverse(msgs)
	return msgs, nil
}

func (s *Store) CountBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE subscription_id = ?`, subscriptionID); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Store) CountMessagesByStatus(ctx context.Context) (map[string]int64, error) {
	return s.countBy(ctx, `SELECT status AS k, COUNT(*) AS n FROM messages GROUP BY status`)
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return res.RowsAffected()
}
