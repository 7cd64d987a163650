package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store/storetest"
)

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
	done chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, key string, v any) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return f.err
}

func TestRecordPersistsAndPublishes(t *testing.T) {
	s := storetest.New(t)
	pub := &fakePublisher{done: make(chan struct{}, 1)}
	r := NewRecorder(s, pub, zap.NewNop())
	ctx := context.Background()

	entry := &models.AuditLog{
		Action:       ActionSubscriptionApprove,
		UserID:       "doc",
		ResourceType: ResourceSubscription,
		ResourceID:   "sub-1",
		Metadata:     map[string]string{"patientId": "pat"},
	}
	if err := r.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Errorf("Record() did not stamp entry: %+v", entry)
	}

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not published")
	}
	pub.mu.Lock()
	if len(pub.keys) != 1 || pub.keys[0] != "sub-1" {
		t.Errorf("published keys = %v", pub.keys)
	}
	pub.mu.Unlock()

	logs, err := r.List(ctx, ActionSubscriptionApprove, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Metadata["patientId"] != "pat" {
		t.Errorf("List() = %+v", logs)
	}
}

func TestRecordWithoutPublisher(t *testing.T) {
	r := NewRecorder(storetest.New(t), nil, zap.NewNop())
	r.Log(context.Background(), &models.AuditLog{Action: ActionMessageRead, UserID: "u", ResourceType: ResourceMessage, ResourceID: "m"})

	logs, err := r.List(context.Background(), "", 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("List() = %v, %v", logs, err)
	}

	var nilRecorder *Recorder
	nilRecorder.Log(context.Background(), &models.AuditLog{Action: ActionMessageRead})
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failing := &fakePublisher{err: errors.New("broker down")}
	b := NewBreakerPublisher(failing, BreakerConfig{MaxFailures: 3, Interval: time.Minute, Timeout: time.Minute}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, "k", "v"); err == nil {
			t.Fatalf("publish %d succeeded, want error", i+1)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	if err := b.Publish(ctx, "k", "v"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("publish with open breaker = %v, want ErrOpenState", err)
	}
	failing.mu.Lock()
	calls := len(failing.keys)
	failing.mu.Unlock()
	if calls != 3 {
		t.Errorf("publisher called %d times, want 3", calls)
	}
}
