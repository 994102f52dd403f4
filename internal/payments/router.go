package payments

import (
	"seatlock/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

func SetupPaymentRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {
	payments := rg.Group("/payments")
	{
		// signed by the provider, no user token
		payments.POST("/webhook", controller.Webhook) // POST /api/v1/payments/webhook

		payments.POST("/checkout", auth, middleware.RequireRoles(middleware.RoleUser, middleware.RoleAdmin), controller.Checkout) // POST /api/v1/payments/checkout
	}
}
