// Package audit records security-relevant actions. Entries are always written
// to the audit store; when a Kafka publisher is configured they are also
// streamed to the audit topic in the background.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/metrics"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

const (
	ActionSubscriptionRequest = "subscription.request"
	ActionSubscriptionApprove = "subscription.approve"
	ActionSubscriptionDeny    = "subscription.deny"
	ActionSubscriptionCancel  = "subscription.cancel"
	ActionMessageRead         = "message.read"
)

const (
	ResourceSubscription = "subscription"
	ResourceMessage      = "message"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

type Recorder struct {
	store     store.AuditStore
	publisher Publisher
	log       *zap.Logger
}

// NewRecorder builds a recorder. publisher may be nil.
func NewRecorder(s store.AuditStore, publisher Publisher, log *zap.Logger) *Recorder {
	return &Recorder{store: s, publisher: publisher, log: log}
}

// Record persists entry and streams it when a publisher is set. Store
// failures are returned; publish failures are only logged.
func (r *Recorder) Record(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := r.store.InsertAudit(ctx, entry); err != nil {
		metrics.AuditEventsTotal.WithLabelValues("store", "error").Inc()
		return fmt.Errorf("audit: insert %s: %w", entry.Action, err)
	}
	metrics.AuditEventsTotal.WithLabelValues("store", "ok").Inc()

	if r.publisher != nil {
		go r.publish(context.WithoutCancel(ctx), *entry)
	}
	return nil
}

func (r *Recorder) publish(ctx context.Context, entry models.AuditLog) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, entry.ResourceID, entry); err != nil {
		metrics.AuditEventsTotal.WithLabelValues("kafka", "error").Inc()
		r.log.Warn("audit publish failed", zap.String("action", entry.Action), zap.String("id", entry.ID), zap.Error(err))
		return
	}
	metrics.AuditEventsTotal.WithLabelValues("kafka", "ok").Inc()
}

// Log records entry and logs instead of returning a failure. Handlers use it
// after the audited change has already been committed.
func (r *Recorder) Log(ctx context.Context, entry *models.AuditLog) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, entry); err != nil {
		r.log.Error("audit record failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (r *Recorder) List(ctx context.Context, action string, limit int) ([]*models.AuditLog, error) {
	return r.store.ListAudit(ctx, action, limit)
}
