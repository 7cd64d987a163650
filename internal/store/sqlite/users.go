package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

const userColumns = `id, username, email, password_hash, role, is_active, created_at`

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :username, :email, :password_hash, :role, :is_active, :created_at)
	`, u)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, "id", id)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser(ctx, "username", username)
}

func (s *Store) findUser(ctx context.Context, column, value string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func (s *Store) CountUsersByRole(ctx context.Context) (map[string]int64, error) {
	return s.countBy(ctx, `SELECT role AS k, COUNT(*) AS n FROM users GROUP BY role`)
}
