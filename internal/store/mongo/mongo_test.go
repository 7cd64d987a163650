package mongo

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

// setupStore connects to MONGODB_TEST_URI (default localhost) and skips the
// test when MongoDB is not reachable.
func setupStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017/?serverSelectionTimeoutMS=1000&connectTimeoutMS=1000"
	}
	dbName := "medchat_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	ctx := context.Background()
	s, err := Connect(ctx, uri, dbName)
	if err != nil {
		t.Skipf("mongodb not available: %v", err)
	}
	t.Cleanup(func() {
		_ = s.client.Database(dbName).Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestMongoOpenPairIndex(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first := &models.Subscription{ID: uuid.NewString(), PatientID: "p1", DoctorID: "d1", Status: models.SubscriptionRequested}
	if err := s.CreateSubscription(ctx, first); err != nil {
		t.Fatalf("CreateSubscription() error: %v", err)
	}

	second := &models.Subscription{ID: uuid.NewString(), PatientID: "p1", DoctorID: "d1", Status: models.SubscriptionRequested}
	if err := s.CreateSubscription(ctx, second); !errors.Is(err, store.ErrOpenSubscriptionExists) {
		t.Fatalf("CreateSubscription() = %v, want ErrOpenSubscriptionExists", err)
	}

	if _, err := s.Cancel(ctx, first.ID, time.Now()); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if err := s.CreateSubscription(ctx, second); err != nil {
		t.Fatalf("CreateSubscription() after cancel error: %v", err)
	}

	if _, err := s.Cancel(ctx, first.ID, time.Now()); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("second Cancel() = %v, want ErrInvalidTransition", err)
	}
}

func TestMongoMessageLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		m := &models.Message{
			ID:             uuid.Must(uuid.NewV7()).String(),
			SubscriptionID: "s1",
			FromUserID:     "p1",
			ToUserID:       "d1",
			Content:        content,
			MessageType:    models.MessageTypeText,
		}
		if _, err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage() error: %v", err)
		}
		ids = append(ids, m.ID)
	}

	recent, err := s.FindRecentBySubscription(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("FindRecentBySubscription() error: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "two" || recent[1].Content != "three" {
		t.Fatalf("unexpected recent messages: %+v", recent)
	}

	read, err := s.UpdateStatus(ctx, ids[0], models.StatusRead)
	if err != nil || read.Status != models.StatusRead {
		t.Fatalf("UpdateStatus(read) = %+v, %v", read, err)
	}
	back, err := s.UpdateStatus(ctx, ids[0], models.StatusDelivered)
	if err != nil || back.Status != models.StatusRead {
		t.Fatalf("UpdateStatus(delivered) after read = %+v, %v", back, err)
	}
	if _, err := s.UpdateStatus(ctx, "missing", models.StatusRead); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateStatus() on missing = %v, want ErrNotFound", err)
	}

	counts, err := s.CountMessagesByStatus(ctx)
	if err != nil {
		t.Fatalf("CountMessagesByStatus() error: %v", err)
	}
	if counts[models.StatusSent] != 2 || counts[models.StatusRead] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
