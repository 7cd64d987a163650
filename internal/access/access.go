// Package access decides whether a user may read or write within a
// subscription's conversation. Every check is read-only, and the reason for
// a denial is never exposed: a missing subscription, a non-participant and
// an unapproved subscription all look the same to the caller.
package access

import (
	"context"
	"errors"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

// SubscriptionFinder is the slice of the subscription store access control reads.
type SubscriptionFinder interface {
	FindOpenOrAny(ctx context.Context, id, participantID string) (*models.Subscription, error)
}

type Checker struct {
	subs SubscriptionFinder
}

func NewChecker(subs SubscriptionFinder) *Checker {
	return &Checker{subs: subs}
}

// participantSubscription returns nil without error for every denial reason.
func (c *Checker) participantSubscription(ctx context.Context, userID, subscriptionID string) (*models.Subscription, error) {
	if userID == "" || subscriptionID == "" {
		return nil, nil
	}
	sub, err := c.subs.FindOpenOrAny(ctx, subscriptionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store(err)
	}
	if !sub.IsParticipant(userID) {
		return nil, nil
	}
	return sub, nil
}

// CanAccessSubscription reports whether userID is the patient or the doctor
// of the subscription, whatever its status.
func (c *Checker) CanAccessSubscription(ctx context.Context, userID, subscriptionID string) (bool, error) {
	sub, err := c.participantSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

// CanChatInSubscription additionally requires the subscription to be approved.
func (c *Checker) CanChatInSubscription(ctx context.Context, userID, subscriptionID string) (bool, error) {
	sub, err := c.participantSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return false, err
	}
	return sub != nil && sub.Status == models.SubscriptionApproved, nil
}

// AssertCanChat fails with apperr.ErrSubscriptionAccess when the user may not
// chat. On success the subscription is returned for recipient resolution.
func (c *Checker) AssertCanChat(ctx context.Context, userID, subscriptionID string) (*models.Subscription, error) {
	sub, err := c.participantSubscription(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.Status != models.SubscriptionApproved {
		return nil, apperr.ErrSubscriptionAccess
	}
	return sub, nil
}
