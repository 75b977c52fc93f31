package routes

import (
	"context"
	"net/http"

	"farmstand/auth"
	"farmstand/metrics"
	"farmstand/middleware"
	"farmstand/notifications"
	"farmstand/orders"
	"farmstand/pay"
	"farmstand/products"
	"farmstand/ratelim"

	"github.com/julienschmidt/httprouter"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers bundles everything the router needs. Built once in main.
type Handlers struct {
	Auth          *auth.Handler
	Tokens        middleware.TokenVerifier
	Products      *products.Handler
	Orders        *orders.Handler
	Idempotency   middleware.Middleware
	Webhooks      *pay.WebhookHandler
	Notifications *notifications.Handler
	Metrics       *metrics.Metrics
	DB            Pinger
	UploadDir     string
}

func RoutesWrapper(router *httprouter.Router, h *Handlers, rateLimiter *ratelim.RateLimiter) {
	AddHealthRoutes(router, h)
	AddStaticRoutes(router, h.UploadDir)
	AddAuthRoutes(router, h, rateLimiter)
	AddProductRoutes(router, h, rateLimiter)
	AddOrderRoutes(router, h, rateLimiter)
	AddPayRoutes(router, h)
	AddNotificationRoutes(router, h)
}

func AddStaticRoutes(router *httprouter.Router, uploadDir string) {
	router.ServeFiles("/uploads/*filepath", http.Dir(uploadDir))
}
