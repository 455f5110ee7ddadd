// Package main is the entrypoint for the roundledger server.
//
// @title           roundledger API
// @version         1.0
// @description     Round-based license ledger: staged primary sales, resale market, insurance tracking, royalty claims and creator payouts.
//
// @contact.name   roundledger maintainers
// @contact.url    https://github.com/MacJediWizard/roundledger
//
// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT
//
// @host      localhost:8080
// @BasePath  /api/v1
//
// @securityDefinitions.apikey GatewayIdentity
// @in header
// @name X-User-ID
// @description Caller identity asserted by the upstream gateway
//
// @tag.name Products
// @tag.description Product approval, rounds and primary sales
// @tag.name Licenses
// @tag.description License ownership and the resale market
// @tag.name Insurance
// @tag.description Insured resale deadline tracking
// @tag.name Royalty
// @tag.description Exit-round royalty claims
// @tag.name Payouts
// @tag.description Creator earnings and payouts
// @tag.name Monitoring
// @tag.description Health and version endpoints
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/roundledger/internal/api"
	"github.com/MacJediWizard/roundledger/internal/config"
	"github.com/MacJediWizard/roundledger/internal/db"
	"github.com/MacJediWizard/roundledger/internal/events"
	"github.com/MacJediWizard/roundledger/internal/insurance"
	"github.com/MacJediWizard/roundledger/internal/ledger"
	"github.com/MacJediWizard/roundledger/internal/metrics"
	"github.com/MacJediWizard/roundledger/internal/notifications"
	"github.com/MacJediWizard/roundledger/internal/payout"
	"github.com/MacJediWizard/roundledger/internal/rounds"
	"github.com/MacJediWizard/roundledger/internal/royalty"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/MacJediWizard/roundledger/internal/store/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// backend is a store that can also report its own health.
type backend interface {
	store.Store
	Ping(ctx context.Context) error
	Health() map[string]any
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting roundledger server")

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewPrometheusMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	st, closeStore, err := openStore(ctx, cfg, m, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		return 1
	}
	defer closeStore()

	// Live event feed
	feed := events.NewFeed(events.DefaultConfig(), logger)
	feed.Start()
	defer feed.Stop()

	// Domain services
	engine := rounds.NewEngine(st, m, feed, logger)
	led := ledger.NewLedger(st, engine, ledger.Config{
		InsuranceWindow:  cfg.InsuranceWindow,
		InsuranceFeeRate: cfg.InsuranceFeeRate,
	}, m, feed, logger)
	tracker := insurance.NewTracker(st, newNotifier(cfg, logger), m, feed, logger)
	processor := royalty.NewProcessor(st, m, feed, logger)
	payouts := payout.NewService(st, payout.Config{Minimum: cfg.PayoutMinimum}, m, feed, logger)

	// Shared rate limit counters
	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to Redis")
			return 1
		}
		defer client.Close()
		redisClient = client
		logger.Info().Msg("Rate limiting backed by Redis")
	}

	routerCfg := api.Config{
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.CORSOrigins,
		RateLimit:      cfg.RateLimit,
		Redis:          redisClient,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Gatherer:       registry,
		Version:        Version,
		Commit:         Commit,
		BuildDate:      BuildDate,
	}

	router, err := api.NewRouter(routerCfg, api.Services{
		Store:   st,
		Rounds:  engine,
		Ledger:  led,
		Tracker: tracker,
		Royalty: processor,
		Payouts: payouts,
		Feed:    feed,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Start insurance sweeper
	var sweeper *insurance.Sweeper
	if cfg.InsuranceSweepSchedule != "" {
		sweeper = insurance.NewSweeper(tracker, cfg.InsuranceSweepSchedule, cfg.InsuranceAutoNotify, logger)
		if err := sweeper.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start insurance sweeper")
			sweeper = nil
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		return 1
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if sweeper != nil {
		select {
		case <-sweeper.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn().Msg("Insurance sweep still running at shutdown")
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}

// openStore connects the configured store driver. Postgres is migrated on
// startup.
func openStore(ctx context.Context, cfg config.ServerConfig, m *metrics.Metrics, logger zerolog.Logger) (backend, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn().Msg("Using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	}

	dbCfg := db.DefaultConfig(cfg.DatabaseURL)
	dbCfg.MaxConns = int32(cfg.DBMaxConns)
	if dbCfg.MinConns > dbCfg.MaxConns {
		dbCfg.MinConns = dbCfg.MaxConns
	}
	dbCfg.TxMaxAttempts = cfg.DBTxMaxAttempts
	dbCfg.LockTimeout = cfg.DBLockTimeout

	database, err := db.New(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	database.SetMetrics(m)
	return database, database.Close, nil
}

// newNotifier posts overdue notices to the configured webhook, or logs them
// when none is set.
func newNotifier(cfg config.ServerConfig, logger zerolog.Logger) insurance.Notifier {
	if cfg.NotifyWebhookURL == "" {
		return notifications.NewLogNotifier(logger)
	}
	return notifications.NewWebhookNotifier(notifications.NewWebhookSender(logger), cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret)
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
