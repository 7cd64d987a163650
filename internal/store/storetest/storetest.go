// Package storetest provides an in-memory SQLite store and seed helpers for
// tests in other packages.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/4xmen/medchat/internal/db"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store/sqlite"
)

// New returns a migrated in-memory store closed at test cleanup.
func New(t testing.TB) *sqlite.Store {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return sqlite.New(database.Conn())
}

type UserCreator interface {
	CreateUser(ctx context.Context, u *models.User) error
}

func SeedUser(t testing.TB, s UserCreator, username, role string) *models.User {
	t.Helper()
	u := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		Role:         role,
		IsActive:     true,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to seed user %s: %v", username, err)
	}
	return u
}

type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, s *models.Subscription) error
}

func SeedSubscription(t testing.TB, s SubscriptionCreator, patientID, doctorID, status string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:          uuid.NewString(),
		PatientID:   patientID,
		DoctorID:    doctorID,
		Status:      status,
		RequestedAt: time.Now().UTC(),
		IsActive:    status == models.SubscriptionRequested || status == models.SubscriptionApproved,
	}
	if err := s.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}
	return sub
}
