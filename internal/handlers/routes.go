package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/4xmen/medchat/internal/models"
)

// Set groups the REST handlers mounted under the API prefix.
type Set struct {
	Auth          *AuthHandler
	Messages      *MessageHandler
	Subscriptions *SubscriptionHandler
	Admin         *AdminHandler
	Push          *PushHandler

	// AuthLimit throttles the credential endpoints; may be nil.
	AuthLimit gin.HandlerFunc
}

func (s *Set) Mount(api *gin.RouterGroup) {
	public := api.Group("/auth")
	if s.AuthLimit != nil {
		public.Use(s.AuthLimit)
	}
	public.POST("/register", s.Auth.Register)
	public.POST("/login", s.Auth.Login)

	protected := api.Group("")
	protected.Use(s.Auth.AuthMiddleware())
	{
		protected.GET("/messages/:subscriptionId", s.Messages.GetHistory)
		protected.POST("/messages", s.Messages.Send)
		protected.PATCH("/messages/:messageId/read", s.Messages.MarkRead)

		protected.POST("/subscriptions", RequireRole(models.RolePatient), s.Subscriptions.Create)
		protected.GET("/subscriptions/mine", s.Subscriptions.ListMine)
		protected.GET("/subscriptions/:id", s.Subscriptions.Get)
		protected.PATCH("/subscriptions/:id", RequireRole(models.RoleDoctor), s.Subscriptions.Respond)
		protected.POST("/subscriptions/:id/cancel", s.Subscriptions.Cancel)

		protected.GET("/admin/audit", RequireRole(models.RoleAdmin), s.Admin.ListAudit)

		protected.GET("/push/vapid-key", s.Push.VAPIDKey)
		protected.POST("/push/subscribe", s.Push.Subscribe)
		protected.POST("/push/unsubscribe", s.Push.Unsubscribe)
	}
}
