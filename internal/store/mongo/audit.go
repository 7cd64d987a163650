package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/4xmen/medchat/internal/models"
)

func (s *Store) InsertAudit(ctx context.Context, entry *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	if _, err := s.audit.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, action string, limit int) ([]*models.AuditLog, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{}
	if action != "" {
		filter["action"] = action
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.audit.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	logs := []*models.AuditLog{}
	if err := cur.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decode audit logs: %w", err)
	}
	return logs, nil
}

func (s *Store) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now()
	}
	_, err := s.push.ReplaceOne(ctx, bson.M{"_id": sub.Endpoint}, sub, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.push.DeleteOne(ctx, bson.M{"_id": endpoint}); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *Store) ListPushSubscriptions(ctx context.Context, userID string) ([]*models.PushSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cur, err := s.push.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	subs := []*models.PushSubscription{}
	if err := cur.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("decode push subscriptions: %w", err)
	}
	return subs, nil
}
