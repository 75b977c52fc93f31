package routes

import (
	"context"
	"net/http"
	"time"

	"farmstand/middleware"
	"farmstand/models"
	"farmstand/ratelim"
	"farmstand/utils"

	"github.com/julienschmidt/httprouter"
)

func AddHealthRoutes(router *httprouter.Router, h *Handlers) {
	router.GET("/health", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if h.DB != nil {
			if err := h.DB.Ping(ctx); err != nil {
				utils.RespondWithJSON(w, http.StatusServiceUnavailable, utils.M{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"status": "ok"})
	})
	if h.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", h.Metrics.Handler())
	}
}

func AddAuthRoutes(router *httprouter.Router, h *Handlers, rateLimiter *ratelim.RateLimiter) {
	router.POST("/api/auth/register", rateLimiter.Limit(h.Auth.Register))
	router.POST("/api/auth/login", rateLimiter.Limit(h.Auth.Login))
	router.GET("/api/auth/me", middleware.Authenticate(h.Tokens)(h.Auth.Me))
}

func AddProductRoutes(router *httprouter.Router, h *Handlers, rateLimiter *ratelim.RateLimiter) {
	farmer := middleware.Chain(
		middleware.Authenticate(h.Tokens),
		middleware.RequireRoles(models.RoleFarmer),
	)

	router.GET("/api/products", h.Products.ListProducts)
	router.GET("/api/products/:id", h.Products.GetProduct)
	router.POST("/api/products", farmer(h.Products.CreateProduct))
	router.PUT("/api/products/:id", farmer(h.Products.UpdateProduct))
	router.DELETE("/api/products/:id", farmer(h.Products.DeleteProduct))
	router.POST("/api/uploads/products", farmer(h.Products.UploadImages))

	router.POST("/api/products/:id/reviews",
		middleware.Chain(
			rateLimiter.Limit,
			middleware.Authenticate(h.Tokens),
		)(h.Products.AddReview),
	)
}

func AddOrderRoutes(router *httprouter.Router, h *Handlers, rateLimiter *ratelim.RateLimiter) {
	authed := middleware.Authenticate(h.Tokens)

	router.GET("/api/orders", authed(h.Orders.ListOrders))
	router.POST("/api/orders",
		middleware.Chain(
			rateLimiter.Limit,
			authed,
			h.Idempotency,
		)(h.Orders.CreateOrder),
	)
	router.GET("/api/orders/:id", authed(h.Orders.GetOrder))
	router.PUT("/api/orders/:id", authed(h.Orders.UpdateOrder))
	router.GET("/api/orders/:id/receipt", authed(h.Orders.DownloadReceipt))
}

// AddPayRoutes registers the processor callbacks. They are authenticated
// by signature, not by token.
func AddPayRoutes(router *httprouter.Router, h *Handlers) {
	router.POST("/api/webhooks/stripe", h.Webhooks.Handle)
	router.GET("/api/webhooks/stripe", h.Webhooks.Probe)
}

func AddNotificationRoutes(router *httprouter.Router, h *Handlers) {
	authed := middleware.Authenticate(h.Tokens)

	router.GET("/api/notifications", authed(h.Notifications.List))
	router.PATCH("/api/notifications/:id", authed(h.Notifications.MarkRead))
	router.GET("/api/notifications/ws", authed(h.Notifications.Stream))
}
