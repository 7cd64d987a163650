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

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ts := now()
	if sub.RequestedAt.IsZero() {
		sub.RequestedAt = ts
	}
	sub.CreatedAt, sub.UpdatedAt = ts, ts
	sub.IsActive = sub.IsOpen()

	if _, err := s.subs.InsertOne(ctx, sub); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrOpenSubscriptionExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"_id": id})
}

func (s *Store) FindOpenOrAny(ctx context.Context, id, participantID string) (*models.Subscription, error) {
	return s.findSubscription(ctx, bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"patient_id": participantID},
			bson.M{"doctor_id": participantID},
		},
	})
}

func (s *Store) findSubscription(ctx context.Context, filter bson.M) (*models.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var sub models.Subscription
	if err := s.subs.FindOne(ctx, filter).Decode(&sub); err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *Store) ListByParticipant(ctx context.Context, userID string) ([]*models.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"$or": bson.A{bson.M{"patient_id": userID}, bson.M{"doctor_id": userID}}}
	cur, err := s.subs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	subs := []*models.Subscription{}
	if err := cur.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) Respond(ctx context.Context, id, status string, response *string, at time.Time) (*models.Subscription, error) {
	if status != models.SubscriptionApproved && status != models.SubscriptionDenied {
		return nil, store.ErrInvalidTransition
	}
	set := bson.M{
		"status":       status,
		"responded_at": at.UTC(),
		"is_active":    status == models.SubscriptionApproved,
		"updated_at":   at.UTC(),
	}
	if response != nil {
		set["response_message"] = *response
	}
	return s.transition(ctx, bson.M{"_id": id, "status": models.SubscriptionRequested}, bson.M{"$set": set}, id)
}

func (s *Store) Cancel(ctx context.Context, id string, at time.Time) (*models.Subscription, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": bson.A{models.SubscriptionRequested, models.SubscriptionApproved}},
	}
	update := bson.M{"$set": bson.M{
		"status":     models.SubscriptionCancelled,
		"is_active":  false,
		"updated_at": at.UTC(),
	}}
	return s.transition(ctx, filter, update, id)
}

// transition applies a guarded single-document update. When the guard does
// not match it reports ErrNotFound or ErrInvalidTransition with the current state.
func (s *Store) transition(ctx context.Context, filter, update bson.M, id string) (*models.Subscription, error) {
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var sub models.Subscription
	err := s.subs.FindOneAndUpdate(cctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&sub)
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	current, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, store.ErrInvalidTransition
}

func (s *Store) CountSubscriptionsByStatus(ctx context.Context) (map[string]int64, error) {
	return countBy(ctx, s.subs, "status")
}
