package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/protocol"
	"github.com/4xmen/medchat/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type ChatGate interface {
	AssertCanChat(ctx context.Context, userID, subscriptionID string) (*models.Subscription, error)
}

// MessageEngine runs sends and reads through the broadcast engine so live
// room members see REST traffic too.
type MessageEngine interface {
	Send(ctx context.Context, id models.Identity, in protocol.MessageSend) (*models.Message, error)
	Read(ctx context.Context, id models.Identity, messageID string) (*models.Message, error)
}

type MessageHandler struct {
	messages store.MessageStore
	gate     ChatGate
	engine   MessageEngine
	log      *zap.Logger
}

func NewMessageHandler(messages store.MessageStore, gate ChatGate, engine MessageEngine, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, gate: gate, engine: engine, log: log}
}

type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

// GetHistory pages through a subscription's messages, newest page first,
// each page oldest first.
func (h *MessageHandler) GetHistory(c *gin.Context) {
	id, _ := identityFrom(c)
	subscriptionID := c.Param("subscriptionId")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 || limit > maxPageSize {
		badRequest(c, "limit must be between 1 and 100")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.gate.AssertCanChat(ctx, id.UserID, subscriptionID); err != nil {
		respondError(c, h.log, err)
		return
	}

	messages, err := h.messages.ListBySubscription(ctx, subscriptionID, limit, offset)
	if err != nil {
		respondError(c, h.log, apperr.Store(err))
		return
	}
	total, err := h.messages.CountBySubscription(ctx, subscriptionID)
	if err != nil {
		respondError(c, h.log, apperr.Store(err))
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"pagination": Pagination{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: int64(offset+len(messages)) < total,
		},
	})
}

type SendMessageRequest struct {
	SubscriptionID string `json:"subscriptionId" binding:"required"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	id, _ := identityFrom(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	msg, err := h.engine.Send(c.Request.Context(), id, protocol.MessageSend{
		SubscriptionID: req.SubscriptionID,
		Content:        req.Content,
		MessageType:    req.MessageType,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Message sent successfully",
		"data":    msg,
	})
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	id, _ := identityFrom(c)

	msg, err := h.engine.Read(c.Request.Context(), id, c.Param("messageId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Message marked as read",
		"data": protocol.MessageReadReceipt{
			MessageID: msg.ID,
			Status:    msg.Status,
			ReadBy:    id.UserID,
		},
	})
}
