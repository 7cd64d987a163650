// Package mongo implements the store contracts on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/4xmen/medchat/internal/store"
)

const opTimeout = 3 * time.Second

type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	subs     *mongo.Collection
	messages *mongo.Collection
	audit    *mongo.Collection
	push     *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Connect dials uri, pings the primary and ensures indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := New(client, client.Database(database))
	if err := s.EnsureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:   client,
		users:    db.Collection("users"),
		subs:     db.Collection("subscriptions"),
		messages: db.Collection("messages"),
		audit:    db.Collection("audit_logs"),
		push:     db.Collection("push_subscriptions"),
	}
}

// EnsureIndexes creates the indexes the store relies on. The partial unique
// index on open subscriptions is what enforces one open subscription per pair.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.subs, []mongo.IndexModel{
			{
				Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "doctor_id", Value: 1}},
				Options: options.Index().
					SetName("open_pair").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_active": true}),
			},
			{Keys: bson.D{{Key: "doctor_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		}},
		{s.messages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "to_user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		}},
		{s.audit, []mongo.IndexModel{
			{Keys: bson.D{{Key: "action", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
		{s.push, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		}},
	}

	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateMany(ctx, ix.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type groupCount struct {
	Key   string `bson:"_id"`
	Count int64  `bson:"n"`
}

func countBy(ctx context.Context, coll *mongo.Collection, field string) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []groupCount
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func now() time.Time {
	return time.Now().UTC()
}
