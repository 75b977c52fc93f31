package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmstand/auth"
	"farmstand/config"
	"farmstand/db"
	"farmstand/logging"
	"farmstand/metrics"
	"farmstand/middleware"
	"farmstand/mq"
	"farmstand/notifications"
	"farmstand/orders"
	"farmstand/pay"
	"farmstand/products"
	"farmstand/ratelim"
	"farmstand/rdx"
	"farmstand/routes"
	"farmstand/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New("farmstand", cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	if !envLoaded {
		logger.Info("no .env file found; using system environment")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
	defer cancel()

	database, err := db.Connect(startCtx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return err
	}
	if err := database.EnsureIndexes(startCtx); err != nil {
		return err
	}
	logger.Info("connected to MongoDB", zap.String("db", cfg.MongoDB))

	conn, err := rdx.Connect(startCtx, rdx.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}

	m := metrics.New()
	if err := utils.EnsureDir(cfg.UploadDir); err != nil {
		return err
	}

	// live notifications
	hub := notifications.NewHub()
	go hub.Run()

	var publisher notifications.Publisher = notifications.LocalPublisher{Hub: hub}
	var worker *mq.Worker
	if conn != nil {
		publisher = mq.NewPublisher(conn)
		worker = mq.NewWorker(conn, hub, logging.Component(logger, "mq"))
		if err := worker.Start(rootCtx); err != nil {
			return err
		}
	}
	feed := notifications.NewFeed(notifications.NewMongoStore(database.Notifications), publisher, m,
		logging.Component(logger, "notifications"))

	// catalog
	var cache products.ListingCache
	var memCache *products.MemoryCache
	if conn != nil {
		cache = products.NewRedisCache(conn, cfg.CatalogCacheTTL)
	} else {
		memCache = products.NewMemoryCache(cfg.CatalogCacheTTL)
		go memCache.Run(time.Minute)
		cache = memCache
	}
	productLog := logging.Component(logger, "products")
	catalog := products.NewService(products.NewMongoStore(database.Products, database.Users.Name()), cache, m, productLog)

	// accounts
	users := auth.NewMongoUserStore(database.Users)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	// orders and payments
	var payments orders.Payments
	if cfg.PaymentsEnabled() {
		payments = pay.NewStripeBridge(cfg.StripeSecretKey, cfg.Currency)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; card payments disabled")
	}
	orderLog := logging.Component(logger, "orders")
	orderSvc := orders.NewService(orders.Deps{
		Store:     orders.NewMongoStore(database.Orders),
		Inventory: catalog,
		Payments:  payments,
		Notifier:  feed,
		Users:     users,
		Metrics:   m,
		Logger:    orderLog,
	})
	sweeper := orders.NewSweeper(orderSvc, cfg.ReservationTTL, cfg.SweepInterval)
	sweeper.Start(rootCtx)

	rateLimiter := ratelim.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondWithError(w, http.StatusNotFound, "Route not found")
	})
	routes.RoutesWrapper(router, &routes.Handlers{
		Auth:          auth.NewHandler(users, tokens, logging.Component(logger, "auth")),
		Tokens:        tokens,
		Products:      products.NewHandler(catalog, cfg.UploadDir, productLog),
		Orders:        orders.NewHandler(orderSvc, orderLog),
		Idempotency:   pay.Idempotency(pay.NewMongoIdempotencyStore(database.Idempotency), logging.Component(logger, "idempotency")),
		Webhooks:      pay.NewWebhookHandler(orderSvc, cfg.StripeWebhookSecret, m, logging.Component(logger, "webhooks")),
		Notifications: notifications.NewHandler(feed, hub, cfg.CORSOrigins, logging.Component(logger, "notifications")),
		Metrics:       m,
		DB:            database,
		UploadDir:     cfg.UploadDir,
	}, rateLimiter)

	// apply middleware: CORS -> security headers -> request id -> logging -> recover -> router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", pay.IdempotencyHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(middleware.Recover(logger)(router))

	handler := middleware.SecurityHeaders(middleware.RequestID(middleware.AccessLog(logging.Component(logger, "http"), m)(corsHandler)))

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Port), zap.Bool("payments", cfg.PaymentsEnabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received; shutting down gracefully")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	sweeper.Stop()
	hub.Stop()
	rateLimiter.Stop()
	if memCache != nil {
		memCache.Stop()
	}
	if worker != nil {
		worker.Wait()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Warn("redis close", zap.Error(err))
		}
	}
	if err := database.Close(shutdownCtx); err != nil {
		logger.Warn("mongo disconnect", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
	return nil
}
