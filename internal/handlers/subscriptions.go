package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/audit"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

const maxNoteLength = 1000

type AccessChecker interface {
	CanAccessSubscription(ctx context.Context, userID, subscriptionID string) (bool, error)
}

type SubscriptionHandler struct {
	subs   store.SubscriptionStore
	users  store.UserStore
	access AccessChecker
	audit  *audit.Recorder
	log    *zap.Logger
}

func NewSubscriptionHandler(subs store.SubscriptionStore, users store.UserStore, access AccessChecker, recorder *audit.Recorder, log *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, users: users, access: access, audit: recorder, log: log}
}

type CreateSubscriptionRequest struct {
	DoctorID       string `json:"doctorId" binding:"required"`
	RequestMessage string `json:"requestMessage"`
	ConsentGiven   bool   `json:"consentGiven"`
}

type RespondSubscriptionRequest struct {
	Status          string `json:"status" binding:"required,oneof=approved denied"`
	ResponseMessage string `json:"responseMessage"`
}

// Create opens a subscription request from the calling patient to a doctor.
func (h *SubscriptionHandler) Create(c *gin.Context) {
	id, _ := identityFrom(c)
	ctx := c.Request.Context()

	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	note, ok := optionalNote(req.RequestMessage)
	if !ok {
		badRequest(c, "requestMessage is too long")
		return
	}

	doctor, err := h.users.FindUserByID(ctx, req.DoctorID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (doctor.Role != models.RoleDoctor || !doctor.IsActive)) {
		respondError(c, h.log, apperr.New(apperr.NotFound, "Doctor not found"))
		return
	}
	if err != nil {
		respondError(c, h.log, apperr.Store(err))
		return
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:             uuid.NewString(),
		PatientID:      id.UserID,
		DoctorID:       doctor.ID,
		Status:         models.SubscriptionRequested,
		RequestMessage: note,
		RequestedAt:    now,
		IsActive:       true,
		ConsentGiven:   req.ConsentGiven,
	}
	if req.ConsentGiven {
		sub.ConsentDate = &now
	}

	if err := h.subs.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, store.ErrOpenSubscriptionExists) {
			respondError(c, h.log, apperr.Wrap(apperr.Conflict, "An open subscription with this doctor already exists", err))
			return
		}
		respondError(c, h.log, apperr.Store(err))
		return
	}

	h.audit.Log(ctx, h.entry(c, audit.ActionSubscriptionRequest, id.UserID, sub))

	c.JSON(http.StatusCreated, gin.H{
		"message": "Subscription requested",
		"data":    sub,
	})
}

func (h *SubscriptionHandler) ListMine(c *gin.Context) {
	id, _ := identityFrom(c)

	subs, err := h.subs.ListByParticipant(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, h.log, apperr.Store(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (h *SubscriptionHandler) Get(c *gin.Context) {
	id, _ := identityFrom(c)
	ctx := c.Request.Context()
	subscriptionID := c.Param("id")

	ok, err := h.access.CanAccessSubscription(ctx, id.UserID, subscriptionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !ok {
		respondError(c, h.log, apperr.ErrSubscriptionAccess)
		return
	}

	sub, err := h.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		respondError(c, h.log, apperr.Store(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

// Respond lets the owning doctor approve or deny a pending request.
func (h *SubscriptionHandler) Respond(c *gin.Context) {
	id, _ := identityFrom(c)
	ctx := c.Request.Context()

	var req RespondSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status must be approved or denied")
		return
	}
	note, ok := optionalNote(req.ResponseMessage)
	if !ok {
		badRequest(c, "responseMessage is too long")
		return
	}

	sub, err := h.load(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if sub.DoctorID != id.UserID {
		respondError(c, h.log, apperr.ErrSubscriptionAccess)
		return
	}

	updated, err := h.subs.Respond(ctx, sub.ID, req.Status, note, time.Now().UTC())
	if err != nil {
		respondError(c, h.log, transitionError(err, "Subscription has already been responded to"))
		return
	}

	action := audit.ActionSubscriptionApprove
	if updated.Status == models.SubscriptionDenied {
		action = audit.ActionSubscriptionDeny
	}
	h.audit.Log(ctx, h.entry(c, action, id.UserID, updated))

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

// Cancel closes an open subscription on behalf of either party.
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	id, _ := identityFrom(c)
	ctx := c.Request.Context()

	sub, err := h.load(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !sub.IsParticipant(id.UserID) {
		respondError(c, h.log, apperr.ErrSubscriptionAccess)
		return
	}

	updated, err := h.subs.Cancel(ctx, sub.ID, time.Now().UTC())
	if err != nil {
		respondError(c, h.log, transitionError(err, "Subscription is already closed"))
		return
	}

	h.audit.Log(ctx, h.entry(c, audit.ActionSubscriptionCancel, id.UserID, updated))

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

func (h *SubscriptionHandler) load(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := h.subs.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, apperr.Store(err)
	}
	return sub, nil
}

func (h *SubscriptionHandler) entry(c *gin.Context, action, userID string, sub *models.Subscription) *models.AuditLog {
	return &models.AuditLog{
		Action:       action,
		UserID:       userID,
		ResourceType: audit.ResourceSubscription,
		ResourceID:   sub.ID,
		Metadata: map[string]string{
			"patientId": sub.PatientID,
			"doctorId":  sub.DoctorID,
			"status":    sub.Status,
		},
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func transitionError(err error, message string) error {
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		return apperr.Wrap(apperr.Conflict, message, err)
	case errors.Is(err, store.ErrNotFound):
		return apperr.ErrSubscriptionNotFound
	default:
		return apperr.Store(err)
	}
}

func optionalNote(s string) (*string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	if len([]rune(s)) > maxNoteLength {
		return nil, false
	}
	return &s, true
}
