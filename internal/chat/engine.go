// Package chat is the message broadcast engine. It replays room history,
// persists sends, and drives the sent -> delivered -> read status sequence,
// broadcasting each step to the subscription's room.
//
// Sends and reads on one room are serialized by a per-room lock held across
// persist-then-broadcast, so every room member observes events in the order
// they were persisted.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/audit"
	"github.com/4xmen/medchat/internal/metrics"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/protocol"
	"github.com/4xmen/medchat/internal/ratelimit"
	"github.com/4xmen/medchat/internal/store"
)

const (
	MaxContentLength    = 2000
	DefaultHistoryLimit = 50
)

// Gate decides whether a user may chat in a subscription.
type Gate interface {
	AssertCanChat(ctx context.Context, userID, subscriptionID string) (*models.Subscription, error)
}

// Emitter delivers events to rooms and single connections.
type Emitter interface {
	BroadcastToRoom(roomID string, ev protocol.Event)
	SendTo(connID string, ev protocol.Event)
	IsOnline(ctx context.Context, userID string) bool
}

type Notifier interface {
	NotifyNewMessage(ctx context.Context, msg *models.Message)
}

type Auditor interface {
	Log(ctx context.Context, entry *models.AuditLog)
}

// Deps are the collaborators of an Engine. Limiter, Notifier and Auditor are
// optional.
type Deps struct {
	Gate         Gate
	Messages     store.MessageStore
	Emitter      Emitter
	Limiter      ratelimit.Limiter
	Notifier     Notifier
	Auditor      Auditor
	HistoryLimit int
	Logger       *zap.Logger
}

type Engine struct {
	gate         Gate
	messages     store.MessageStore
	emitter      Emitter
	limiter      ratelimit.Limiter
	notifier     Notifier
	auditor      Auditor
	historyLimit int
	rooms        *roomLocks
	log          *zap.Logger
}

func New(d Deps) *Engine {
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = DefaultHistoryLimit
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		gate:         d.Gate,
		messages:     d.Messages,
		emitter:      d.Emitter,
		limiter:      d.Limiter,
		notifier:     d.Notifier,
		auditor:      d.Auditor,
		historyLimit: d.HistoryLimit,
		rooms:        newRoomLocks(),
		log:          d.Logger,
	}
}

// ReplayHistory sends the room's most recent messages, oldest first, to the
// joining connection only.
func (e *Engine) ReplayHistory(ctx context.Context, connID, subscriptionID string) error {
	unlock := e.rooms.lock(subscriptionID)
	defer unlock()

	msgs, err := e.messages.FindRecentBySubscription(ctx, subscriptionID, e.historyLimit)
	if err != nil {
		return apperr.Store(err)
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}

	e.emitter.SendTo(connID, protocol.NewEvent(protocol.TypeMessageHistory, protocol.MessageHistory{
		SubscriptionID: subscriptionID,
		Messages:       msgs,
	}))
	return nil
}

// Send persists a message from the caller to the other party of an approved
// subscription and broadcasts it to the room. The returned message carries
// its final status.
func (e *Engine) Send(ctx context.Context, id models.Identity, in protocol.MessageSend) (*models.Message, error) {
	start := time.Now()

	if id.UserID == "" {
		return nil, apperr.ErrAuthenticationRequired
	}

	content, messageType, err := normalize(in)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if e.limiter != nil {
		ok, _ := e.limiter.Allow(ctx, id.UserID, ratelimit.RuleMessage)
		if !ok {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, apperr.ErrRateLimited
		}
	}

	sub, err := e.gate.AssertCanChat(ctx, id.UserID, in.SubscriptionID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	recipient, ok := sub.Counterpart(id.UserID)
	if !ok {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.ErrSubscriptionAccess
	}

	msgID, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Internal server error", err)
	}

	unlock := e.rooms.lock(sub.ID)
	msg, err := e.messages.CreateMessage(ctx, &models.Message{
		ID:             msgID.String(),
		SubscriptionID: sub.ID,
		FromUserID:     id.UserID,
		ToUserID:       recipient,
		Content:        content,
		MessageType:    messageType,
		Status:         models.StatusSent,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		unlock()
		e.log.Error("failed to persist message", zap.String("kind", apperr.StoreUnavailable.String()),
			zap.String("subscription_id", sub.ID), zap.Error(err))
		return nil, apperr.Store(err)
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	e.emitter.BroadcastToRoom(sub.ID, protocol.NewEvent(protocol.TypeMessageReceived, msg))

	delivered, err := e.messages.UpdateStatus(ctx, msg.ID, models.StatusDelivered)
	if err != nil {
		// the message is stored and broadcast; it stays at sent
		e.log.Error("failed to mark message delivered", zap.String("kind", apperr.StoreUnavailable.String()),
			zap.String("message_id", msg.ID), zap.Error(err))
	} else {
		msg = delivered
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
		e.emitter.BroadcastToRoom(sub.ID, protocol.NewEvent(protocol.TypeMessageDelivered, protocol.MessageDelivered{
			MessageID: msg.ID,
			Status:    msg.Status,
		}))
	}
	unlock()

	metrics.SendLatency.Observe(time.Since(start).Seconds())

	if e.notifier != nil && !e.emitter.IsOnline(ctx, recipient) {
		go e.notifier.NotifyNewMessage(context.WithoutCancel(ctx), msg)
	}

	e.log.Debug("message sent",
		zap.String("message_id", msg.ID),
		zap.String("subscription_id", sub.ID),
		zap.String("from", id.UserID),
		zap.String("to", recipient))

	return msg, nil
}

// Read marks a message read on behalf of its recipient and broadcasts the
// receipt to the room.
func (e *Engine) Read(ctx context.Context, id models.Identity, messageID string) (*models.Message, error) {
	if id.UserID == "" {
		return nil, apperr.ErrAuthenticationRequired
	}

	msg, err := e.messages.FindMessageByID(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrMessageNotFound
	}
	if err != nil {
		return nil, apperr.Store(err)
	}

	if msg.ToUserID != id.UserID {
		return nil, apperr.ErrAccessDenied
	}

	unlock := e.rooms.lock(msg.SubscriptionID)
	defer unlock()

	updated, err := e.messages.UpdateStatus(ctx, msg.ID, models.StatusRead)
	if err != nil {
		return nil, apperr.Store(err)
	}
	metrics.MessagesTotal.WithLabelValues("read").Inc()

	e.emitter.BroadcastToRoom(msg.SubscriptionID, protocol.NewEvent(protocol.TypeMessageRead, protocol.MessageReadReceipt{
		MessageID: updated.ID,
		Status:    updated.Status,
		ReadBy:    id.UserID,
	}))

	if e.auditor != nil {
		e.auditor.Log(ctx, &models.AuditLog{
			Action:       audit.ActionMessageRead,
			UserID:       id.UserID,
			ResourceType: audit.ResourceMessage,
			ResourceID:   msg.ID,
			Metadata:     map[string]string{"subscriptionId": msg.SubscriptionID},
		})
	}

	return updated, nil
}

var validMessageTypes = map[string]bool{
	models.MessageTypeText:   true,
	models.MessageTypeImage:  true,
	models.MessageTypeFile:   true,
	models.MessageTypeSystem: true,
}

func normalize(in protocol.MessageSend) (string, string, error) {
	if strings.TrimSpace(in.SubscriptionID) == "" {
		return "", "", apperr.New(apperr.Validation, "subscriptionId is required")
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return "", "", apperr.New(apperr.Validation, "Message content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", "", apperr.New(apperr.Validation, "Message content must not exceed 2000 characters")
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !validMessageTypes[messageType] {
		return "", "", apperr.New(apperr.Validation, "Invalid message type")
	}

	return content, messageType, nil
}
