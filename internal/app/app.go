package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderforge/payments/internal/module/order"
	"github.com/orderforge/payments/internal/module/payment"
	"github.com/orderforge/payments/internal/module/payment/provider/paypal"
	"github.com/orderforge/payments/internal/module/payment/provider/stripe"
	"github.com/orderforge/payments/internal/shared/cache"
	"github.com/orderforge/payments/internal/shared/config"
	"github.com/orderforge/payments/internal/shared/database"
	"github.com/orderforge/payments/internal/shared/logger"
	"github.com/orderforge/payments/internal/shared/metrics"
	"github.com/orderforge/payments/internal/shared/middleware"
)

// App wires configuration, storage, the payment handlers and the HTTP
// surface together.
type App struct {
	config  *config.Config
	db      *gorm.DB
	redis   redis.UniversalClient
	router  *gin.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics

	orderHandler   *order.Handler
	paymentHandler *payment.Handler
	webhookHandler *payment.WebhookHandler

	orderService   *order.Service
	paymentService *payment.Service
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.New("payments"),
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	if err := app.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	// Redis is optional; without it webhook dedup falls back to an
	// in-process store.
	if cfg.Redis.Address != "" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis connection failed, using in-memory event store", zap.Error(err))
		} else {
			app.redis = redisClient
		}
	}

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}

	app.router = app.setupRouter()
	app.registerRoutes()

	return app, nil
}

func (a *App) migrate() error {
	return a.db.AutoMigrate(
		&order.Order{},
		&order.OrderLine{},
		&payment.Payment{},
		&payment.Refund{},
		&payment.Method{},
		&payment.WebhookEvent{},
	)
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// initModules initializes the order and payment modules.
func (a *App) initModules() error {
	orderRepo := order.NewRepository(a.db)
	a.orderService = order.NewService(orderRepo, a.logger)
	a.orderHandler = order.NewHandler(a.orderService, a.logger)

	return a.initPaymentModule()
}

func (a *App) initPaymentModule() error {
	creds := paypal.Credentials{
		ClientID:     a.config.PayPal.ClientID,
		ClientSecret: a.config.PayPal.ClientSecret,
		Mode:         paypal.Mode(a.config.PayPal.Mode),
	}

	tokens := paypal.NewTokenCache(a.metrics)
	client := paypal.NewClient(a.config.PayPal.HTTPTimeout, tokens, a.logger, a.metrics)

	registry := payment.NewHandlerRegistry()
	registry.Register(paypal.NewHandler(client, paypal.Options{
		Credentials: creds,
		Intent:      paypal.Intent(a.config.PayPal.Intent),
		BrandName:   a.config.PayPal.BrandName,
		ReturnURL:   a.config.PayPal.ReturnURL,
		CancelURL:   a.config.PayPal.CancelURL,
	}, a.logger))
	if a.config.Stripe.APIKey != "" {
		registry.Register(stripe.NewHandler(a.config.Stripe.APIKey, a.logger))
	}

	paymentRepo := payment.NewRepository(a.db)
	a.paymentService = payment.NewService(paymentRepo, a.orderService, registry, a.logger, a.metrics)
	a.paymentHandler = payment.NewHandler(a.paymentService, a.logger)

	var events payment.EventStore
	if a.redis != nil {
		events = payment.NewRedisEventStore(a.redis, a.config.PayPal.EventTTL)
	} else {
		events = payment.NewMemoryEventStore()
	}

	var archiver payment.Archiver = &payment.NoopArchiver{}
	if a.config.Archive.Enabled {
		s3Archiver, err := payment.NewS3Archiver(
			context.Background(),
			a.config.Archive.Region,
			a.config.Archive.Bucket,
			a.config.Archive.Prefix,
			a.logger,
		)
		if err != nil {
			return fmt.Errorf("init webhook archiver: %w", err)
		}
		archiver = s3Archiver
	}

	a.webhookHandler = payment.NewWebhookHandler(
		a.paymentService,
		a.orderService,
		client,
		events,
		archiver,
		creds,
		a.config.PayPal.WebhookID,
		a.logger,
		a.metrics,
	)
	return nil
}

// registerRoutes registers routes for all modules.
func (a *App) registerRoutes() {
	v1 := a.router.Group("/api/v1")

	// Protected routes (requires auth)
	protected := v1.Group("")
	if a.config.Auth.JWTSecret != "" {
		protected.Use(middleware.Auth(a.config.Auth.JWTSecret))
	}

	// Webhook routes (no auth, uses signature verification)
	webhooks := a.router.Group("/webhooks")

	a.orderHandler.RegisterRoutes(protected)
	a.paymentHandler.RegisterRoutes(protected)
	a.webhookHandler.RegisterRoutes(webhooks)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases application resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
