package sqlite

import (
	"context"
	"fmt"

	"github.com/4xmen/medchat/internal/models"
)

func (s *Store) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth, created_at)
		VALUES (:endpoint, :user_id, :p256dh, :auth, :created_at)
		ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id, p256dh = excluded.p256dh, auth = excluded.auth
	`, sub)
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *Store) ListPushSubscriptions(ctx context.Context, userID string) ([]*models.PushSubscription, error) {
	subs := []*models.PushSubscription{}
	err := s.db.SelectContext(ctx, &subs, `
		SELECT endpoint, user_id, p256dh, auth, created_at FROM push_subscriptions WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	return subs, nil
}
