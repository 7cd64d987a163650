package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/apperr"
)

// respondError writes err as {"error": message} with the status of its kind.
// Unclassified errors are logged and reported as internal.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal || kind == apperr.StoreUnavailable {
		log.Error("request failed",
			zap.String("kind", kind.String()),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(kind.HTTPStatus(), gin.H{"error": apperr.Message(err)})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(apperr.Validation.HTTPStatus(), gin.H{"error": message})
}
