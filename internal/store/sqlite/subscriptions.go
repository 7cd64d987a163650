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

const subscriptionColumns = `id, patient_id, doctor_id, status, request_message, response_message,
	requested_at, responded_at, expires_at, is_active, consent_given, consent_date, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	ts := now()
	if sub.RequestedAt.IsZero() {
		sub.RequestedAt = ts
	}
	sub.CreatedAt, sub.UpdatedAt = ts, ts

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (:id, :patient_id, :doctor_id, :status, :request_message, :response_message,
			:requested_at, :responded_at, :expires_at, :is_active, :consent_given, :consent_date, :created_at, :updated_at)
	`, sub)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOpenSubscriptionExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) FindOpenOrAny(ctx context.Context, id, participantID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE id = ? AND (patient_id = ? OR doctor_id = ?)
	`, id, participantID, participantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) ListByParticipant(ctx context.Context, userID string) ([]*models.Subscription, error) {
	subs := []*models.Subscription{}
	err := s.db.SelectContext(ctx, &subs, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE patient_id = ? OR doctor_id = ?
		ORDER BY created_at DESC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) Respond(ctx context.Context, id, status string, response *string, at time.Time) (*models.Subscription, error) {
	if status != models.SubscriptionApproved && status != models.SubscriptionDenied {
		return nil, store.ErrInvalidTransition
	}
	at = at.UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = ?, response_message = ?, responded_at = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, response, at, status == models.SubscriptionApproved, at, id, models.SubscriptionRequested)
	if err != nil {
		return nil, fmt.Errorf("respond to subscription: %w", err)
	}
	return s.afterTransition(ctx, id, res)
}

func (s *Store) Cancel(ctx context.Context, id string, at time.Time) (*models.Subscription, error) {
	at = at.UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = ?, is_active = 0, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, models.SubscriptionCancelled, at, id, models.SubscriptionRequested, models.SubscriptionApproved)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return s.afterTransition(ctx, id, res)
}

// afterTransition reloads the row after a guarded update, telling a missing
// subscription apart from one whose status did not allow the change.
func (s *Store) afterTransition(ctx context.Context, id string, res sql.Result) (*models.Subscription, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	sub, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return sub, store.ErrInvalidTransition
	}
	return sub, nil
}

func (s *Store) CountSubscriptionsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.countBy(ctx, `SELECT status AS k, COUNT(*) AS n FROM subscriptions GROUP BY status`)
}
