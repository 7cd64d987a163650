// Package sqlite implements the store contracts on an embedded SQLite
// database through sqlx.
package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/4xmen/medchat/internal/store"
)

type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close is a no-op; the owner of the *sqlx.DB closes it.
func (s *Store) Close(ctx context.Context) error {
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

type groupCount struct {
	Key   string `db:"k"`
	Count int64  `db:"n"`
}

func (s *Store) countBy(ctx context.Context, query string) (map[string]int64, error) {
	var rows []groupCount
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

func now() time.Time {
	return time.Now().UTC()
}
