package access

import (
	"context"
	"errors"
	"testing"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

type fakeSubs struct {
	subs map[string]*models.Subscription
	err  error
}

func (f *fakeSubs) FindOpenOrAny(ctx context.Context, id, participantID string) (*models.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok || !sub.IsParticipant(participantID) {
		return nil, store.ErrNotFound
	}
	return sub, nil
}

func TestChatPermissionMatrix(t *testing.T) {
	statuses := []string{
		models.SubscriptionRequested,
		models.SubscriptionApproved,
		models.SubscriptionDenied,
		models.SubscriptionCancelled,
	}
	callers := map[string]bool{"patient": true, "doctor": true, "outsider": false, "": false}

	ctx := context.Background()
	for _, status := range statuses {
		subs := &fakeSubs{subs: map[string]*models.Subscription{
			"s1": {ID: "s1", PatientID: "patient", DoctorID: "doctor", Status: status},
		}}
		c := NewChecker(subs)

		for caller, isParty := range callers {
			wantChat := isParty && status == models.SubscriptionApproved

			canAccess, err := c.CanAccessSubscription(ctx, caller, "s1")
			if err != nil {
				t.Fatalf("CanAccessSubscription(%q, %s) error: %v", caller, status, err)
			}
			if canAccess != isParty {
				t.Errorf("CanAccessSubscription(%q, %s) = %v, want %v", caller, status, canAccess, isParty)
			}

			canChat, err := c.CanChatInSubscription(ctx, caller, "s1")
			if err != nil {
				t.Fatalf("CanChatInSubscription(%q, %s) error: %v", caller, status, err)
			}
			if canChat != wantChat {
				t.Errorf("CanChatInSubscription(%q, %s) = %v, want %v", caller, status, canChat, wantChat)
			}

			sub, err := c.AssertCanChat(ctx, caller, "s1")
			if wantChat {
				if err != nil || sub == nil {
					t.Errorf("AssertCanChat(%q, %s) = %v, %v", caller, status, sub, err)
				}
			} else if !errors.Is(err, apperr.ErrSubscriptionAccess) {
				t.Errorf("AssertCanChat(%q, %s) error = %v, want access denied", caller, status, err)
			}
		}
	}
}

func TestDenialsAreIndistinguishable(t *testing.T) {
	c := NewChecker(&fakeSubs{subs: map[string]*models.Subscription{
		"pending": {ID: "pending", PatientID: "p", DoctorID: "d", Status: models.SubscriptionRequested},
		"open":    {ID: "open", PatientID: "p", DoctorID: "d", Status: models.SubscriptionApproved},
	}})
	ctx := context.Background()

	cases := []struct{ user, sub string }{
		{"p", "missing"},
		{"p", "pending"},
		{"x", "open"},
	}
	var messages []string
	for _, tc := range cases {
		_, err := c.AssertCanChat(ctx, tc.user, tc.sub)
		if apperr.KindOf(err) != apperr.AccessDenied {
			t.Fatalf("AssertCanChat(%s, %s) kind = %v", tc.user, tc.sub, apperr.KindOf(err))
		}
		messages = append(messages, apperr.Message(err))
	}
	for _, m := range messages[1:] {
		if m != messages[0] {
			t.Errorf("denial messages differ: %q vs %q", m, messages[0])
		}
	}
	if messages[0] != "Access denied to this subscription" {
		t.Errorf("unexpected denial message %q", messages[0])
	}
}

func TestStoreFailureIsNotADenial(t *testing.T) {
	c := NewChecker(&fakeSubs{err: errors.New("connection reset")})

	if _, err := c.CanChatInSubscription(context.Background(), "p", "s1"); apperr.KindOf(err) != apperr.StoreUnavailable {
		t.Errorf("CanChatInSubscription() kind = %v, want StoreUnavailable", apperr.KindOf(err))
	}
	if _, err := c.AssertCanChat(context.Background(), "p", "s1"); apperr.KindOf(err) != apperr.StoreUnavailable {
		t.Errorf("AssertCanChat() kind = %v, want StoreUnavailable", apperr.KindOf(err))
	}
}
