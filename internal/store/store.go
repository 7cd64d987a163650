// Package store declares the persistence contracts of the messaging core.
// Implementations live in the sqlite and mongo subpackages; both report
// ErrNotFound for missing records and ErrOpenSubscriptionExists when the
// one-open-subscription-per-pair constraint rejects a write.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/4xmen/medchat/internal/models"
)

var (
	ErrNotFound               = errors.New("store: not found")
	ErrOpenSubscriptionExists = errors.New("store: open subscription already exists for this pair")
	ErrDuplicate              = errors.New("store: duplicate key")
	ErrInvalidTransition      = errors.New("store: invalid status transition")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	CountUsersByRole(ctx context.Context) (map[string]int64, error)
}

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s *models.Subscription) error
	// FindByID returns ErrNotFound when no subscription has the id.
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	// FindOpenOrAny returns the subscription only when participantID is its
	// patient or doctor, whatever its status.
	FindOpenOrAny(ctx context.Context, id, participantID string) (*models.Subscription, error)
	ListByParticipant(ctx context.Context, userID string) ([]*models.Subscription, error)
	// Respond moves a requested subscription to approved or denied.
	Respond(ctx context.Context, id, status string, response *string, at time.Time) (*models.Subscription, error)
	// Cancel closes an open subscription.
	Cancel(ctx context.Context, id string, at time.Time) (*models.Subscription, error)
	CountSubscriptionsByStatus(ctx context.Context) (map[string]int64, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) (*models.Message, error)
	FindMessageByID(ctx context.Context, id string) (*models.Message, error)
	// UpdateStatus only ever moves a message forward. A request that would not
	// advance the status leaves the message untouched and returns it as stored.
	UpdateStatus(ctx context.Context, id, status string) (*models.Message, error)
	// FindRecentBySubscription returns the newest limit messages, oldest first.
	FindRecentBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*models.Message, error)
	// ListBySubscription pages from the newest message backwards; each page is
	// returned oldest first.
	ListBySubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*models.Message, error)
	CountBySubscription(ctx context.Context, subscriptionID string) (int64, error)
	CountMessagesByStatus(ctx context.Context) (map[string]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type AuditStore interface {
	InsertAudit(ctx context.Context, entry *models.AuditLog) error
	ListAudit(ctx context.Context, action string, limit int) ([]*models.AuditLog, error)
}

type PushStore interface {
	SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
	ListPushSubscriptions(ctx context.Context, userID string) ([]*models.PushSubscription, error)
}

// Store bundles every contract a backend provides.
type Store interface {
	UserStore
	SubscriptionStore
	MessageStore
	AuditStore
	PushStore
	Close(ctx context.Context) error
}

func Reverse(msgs []*models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
