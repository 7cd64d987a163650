package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

type PushHandler struct {
	store          store.PushStore
	vapidPublicKey string
	log            *zap.Logger
}

func NewPushHandler(s store.PushStore, vapidPublicKey string, log *zap.Logger) *PushHandler {
	return &PushHandler{store: s, vapidPublicKey: vapidPublicKey, log: log}
}

type PushSubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

type PushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// VAPIDKey exposes the public key browsers need to subscribe.
func (h *PushHandler) VAPIDKey(c *gin.Context) {
	if h.vapidPublicKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "push notifications are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.vapidPublicKey})
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	id, _ := identityFrom(c)

	var req PushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if u, err := url.Parse(req.Endpoint); err != nil || u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		badRequest(c, "invalid endpoint")
		return
	}

	err := h.store.SavePushSubscription(c.Request.Context(), &models.PushSubscription{
		UserID:    id.UserID,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		respondError(c, h.log, apperr.Store(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Subscribed to push notifications"})
}

// Unsubscribe removes one of the caller's own subscriptions. Unknown
// endpoints succeed silently.
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	id, _ := identityFrom(c)
	ctx := c.Request.Context()

	var req PushUnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	subs, err := h.store.ListPushSubscriptions(ctx, id.UserID)
	if err != nil {
		respondError(c, h.log, apperr.Store(err))
		return
	}
	for _, sub := range subs {
		if sub.Endpoint != req.Endpoint {
			continue
		}
		if err := h.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			respondError(c, h.log, apperr.Store(err))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed from push notifications"})
}
