package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

// Message ids are UUIDv7, so _id orders ties on created_at.
var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.UpdatedAt = m.CreatedAt
	if m.Status == "" {
		m.Status = models.StatusSent
	}
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *Store) FindMessageByID(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var m models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id, status string) (*models.Message, error) {
	lower := models.StatusesBelow(status)
	if models.StatusRank(status) < 0 {
		return nil, store.ErrInvalidTransition
	}
	if len(lower) == 0 {
		return s.FindMessageByID(ctx, id)
	}

	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "status": bson.M{"$in": lower}}
	update := bson.M{"$set": bson.M{"status": status, "updated_at": now()}}

	var m models.Message
	err := s.messages.FindOneAndUpdate(cctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// already at or past status, or missing
		return s.FindMessageByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}
	return &m, nil
}

func (s *Store) FindRecentBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*models.Message, error) {
	return s.ListBySubscription(ctx, subscriptionID, limit, 0)
}

func (s *Store) ListBySubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(newestFirst).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, bson.M{"subscription_id": subscriptionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := []*models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	store.Reverse(msgs)
	return msgs, nil
}

func (s *Store) CountBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.messages.CountDocuments(ctx, bson.M{"subscription_id": subscriptionID})
}

func (s *Store) CountMessagesByStatus(ctx context.Context) (map[string]int64, error) {
	return countBy(ctx, s.messages, "status")
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := s.messages.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return res.DeletedCount, nil
}
