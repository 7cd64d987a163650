package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/audit"
	"github.com/4xmen/medchat/internal/models"
)

type AdminHandler struct {
	audit *audit.Recorder
	log   *zap.Logger
}

func NewAdminHandler(recorder *audit.Recorder, log *zap.Logger) *AdminHandler {
	return &AdminHandler{audit: recorder, log: log}
}

// ListAudit returns the newest audit entries, optionally filtered by action.
func (h *AdminHandler) ListAudit(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 || limit > 500 {
		badRequest(c, "limit must be between 1 and 500")
		return
	}

	logs, err := h.audit.List(c.Request.Context(), c.Query("action"), limit)
	if err != nil {
		respondError(c, h.log, apperr.Store(err))
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
