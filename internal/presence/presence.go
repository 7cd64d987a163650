package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a connection stays registered without a refresh,
// so a crashed process does not leave its users online forever.
const DefaultTTL = 2 * time.Minute

// Store keeps the set of live connection ids per user in Redis so every
// process can tell whether a user is reachable.
//
// Keys used:
//   - <prefix>:conn:<userID> -> set of connection ids
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) connKey(userID string) string { return fmt.Sprintf("%s:conn:%s", s.prefix, userID) }

// AddConnection registers a connection and refreshes the user's key expiry.
func (s *Store) AddConnection(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) RemoveConnection(ctx context.Context, userID, connID string) error {
	return s.client.SRem(ctx, s.connKey(userID), connID).Err()
}

// Refresh extends the expiry of a user's connection set.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, s.connKey(userID), s.ttl).Err()
}

func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.SCard(ctx, s.connKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
