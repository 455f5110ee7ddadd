// Package api provides the HTTP API for the roundledger server.
package api

import (
	"time"

	"github.com/MacJediWizard/roundledger/internal/api/handlers"
	"github.com/MacJediWizard/roundledger/internal/api/middleware"
	"github.com/MacJediWizard/roundledger/internal/config"
	"github.com/MacJediWizard/roundledger/internal/events"
	"github.com/MacJediWizard/roundledger/internal/insurance"
	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/payout"
	"github.com/MacJediWizard/roundledger/internal/rounds"
	"github.com/MacJediWizard/roundledger/internal/royalty"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/ulule/limiter/v3"

	_ "github.com/MacJediWizard/roundledger/docs/api"
)

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed outside production.
	AllowedOrigins []string
	RateLimit      limiter.Rate
	// Redis shares rate limit counters across replicas when set.
	Redis        redis.UniversalClient
	MaxBodyBytes int64
	// Gatherer backs the /metrics endpoint. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:    config.EnvDevelopment,
		AllowedOrigins: []string{},
		RateLimit:      limiter.Rate{Period: time.Minute, Limit: 300},
		MaxBodyBytes:   1 << 20,
		Gatherer:       prometheus.DefaultGatherer,
		Version:        "dev",
		Commit:         "unknown",
		BuildDate:      "unknown",
	}
}

// Services are the domain components served by the router.
type Services struct {
	Store   handlers.DatabaseHealthChecker
	Rounds  *rounds.Engine
	Ledger  *ledger.Ledger
	Tracker *insurance.Tracker
	Royalty *royalty.Processor
	Payouts *payout.Service
	Feed    *events.Feed
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, svc Services, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment, logger))
	if cfg.MaxBodyBytes > 0 {
		r.Engine.Use(middleware.BodyLimitMiddleware(cfg.MaxBodyBytes))
	}

	// Rate limiting
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimit, cfg.Redis)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health check endpoints (no auth required)
	var feedStats handlers.FeedStats
	if svc.Feed != nil {
		feedStats = svc.Feed
	}
	healthHandler := handlers.NewHealthHandler(svc.Store, feedStats, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	handlers.NewMetricsHandler(gatherer, logger).RegisterPublicRoutes(r.Engine)

	// Swagger API documentation (no auth required)
	r.Engine.GET("/api/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.URL("/api/docs/doc.json"),
		ginSwagger.DefaultModelsExpandDepth(-1),
	))

	// Version endpoint (no auth required)
	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, logger)
	versionHandler.RegisterPublicRoutes(r.Engine)

	// API v1 routes (gateway identity required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.IdentityMiddleware(logger))

	admin := apiV1.Group("/admin")
	admin.Use(middleware.RequireAdmin())

	versionHandler.RegisterRoutes(apiV1)

	productsHandler := handlers.NewProductsHandler(svc.Rounds, svc.Ledger, logger)
	productsHandler.RegisterRoutes(apiV1)
	productsHandler.RegisterAdminRoutes(admin)

	licensesHandler := handlers.NewLicensesHandler(svc.Ledger, logger)
	licensesHandler.RegisterRoutes(apiV1)

	insuranceHandler := handlers.NewInsuranceHandler(svc.Tracker, logger)
	insuranceHandler.RegisterRoutes(apiV1)
	insuranceHandler.RegisterAdminRoutes(admin)

	royaltyHandler := handlers.NewRoyaltyHandler(svc.Royalty, logger)
	royaltyHandler.RegisterRoutes(apiV1)
	royaltyHandler.RegisterAdminRoutes(admin)

	payoutHandler := handlers.NewPayoutHandler(svc.Payouts, logger)
	payoutHandler.RegisterRoutes(apiV1)
	payoutHandler.RegisterAdminRoutes(admin)

	if svc.Feed != nil {
		eventsHandler := handlers.NewEventsHandler(svc.Feed, logger)
		eventsHandler.RegisterRoutes(apiV1)
	}

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
