package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/phcwatch/phcwatch/internal/config"
	"github.com/phcwatch/phcwatch/internal/domain/dashboard"
	"github.com/phcwatch/phcwatch/internal/domain/patient"
	"github.com/phcwatch/phcwatch/internal/domain/triage"
	"github.com/phcwatch/phcwatch/internal/domain/visit"
	"github.com/phcwatch/phcwatch/internal/platform/auth"
	"github.com/phcwatch/phcwatch/internal/platform/db"
	"github.com/phcwatch/phcwatch/internal/platform/metrics"
	"github.com/phcwatch/phcwatch/internal/platform/middleware"
	"github.com/phcwatch/phcwatch/internal/platform/notify"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "phcwatch-server",
		Short:        "NEWS2 scoring and PHC triage API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(facilityCmd())
	rootCmd.AddCommand(scoreCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger builds the process logger and installs it as the zerolog global.
func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return zerolog.Nop(), err
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	logger = logger.Level(level)
	log.Logger = logger
	return logger, nil
}

// server holds the dependencies the router is built from. Pool may be nil in
// tests that never reach a facility-scoped route.
type server struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	notifier notify.Notifier
	inbox    notify.InboxReader
	pingers  map[string]db.Pinger
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	srv := &server{
		cfg:      cfg,
		pool:     pool,
		notifier: notify.Nop{},
		pingers:  map[string]db.Pinger{},
		metrics:  metrics.New(),
		logger:   logger,
	}

	// Notifications
	if cfg.RedisURL != "" {
		rds, err := notify.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid redis address")
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable; notifications will be retried per message")
		}
		srv.notifier = rds
		srv.inbox = rds
		srv.pingers["redis"] = rds
		logger.Info().Msg("redis notifications enabled")
	} else {
		logger.Info().Msg("REDIS_URL not set; notifications disabled")
	}

	e := srv.router()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// router wires middleware and every domain handler.
func (s *server) router() *echo.Echo {
	cfg := s.cfg
	logger := s.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(s.metrics.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.FacilityHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Probes
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if s.pool != nil {
		e.GET("/health/db", db.HealthHandler(s.pool, s.pingers))
	}
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	// Auth middleware
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	rateLimitCfg.BurstSize = cfg.RateLimitBurst

	// API groups
	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg), db.FacilityMiddleware(s.pool, cfg.DefaultFacility))
	fhirGroup := e.Group("/fhir", authMW, middleware.RateLimit(rateLimitCfg), db.FacilityMiddleware(s.pool, cfg.DefaultFacility))

	// Patient domain
	patientSvc := patient.NewService(patient.NewRepoPG(s.pool), logger)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	// Visit lifecycle
	visitSvc := visit.NewService(visit.NewRepoPG(s.pool), patientSvc, s.notifier, s.metrics, logger)
	visit.NewHandler(visitSvc).RegisterRoutes(apiV1, fhirGroup)

	// Triage queue
	queueSvc := triage.NewQueueService(visitSvc, s.metrics, logger)
	triage.NewHandler(queueSvc).RegisterRoutes(apiV1)

	// Dashboard
	dashSvc := dashboard.NewService(visitSvc, patientSvc, cfg.MonitoringWindow, logger)
	dashboard.NewHandler(dashSvc).RegisterRoutes(apiV1)

	// Notification inbox
	if s.inbox != nil {
		notify.NewHandler(s.inbox).RegisterRoutes(apiV1)
	}

	logger.Debug().Int("routes", len(e.Routes())).Msg("routes registered")
	return e
}

// openPool loads config and connects for the one-shot admin commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, pool, nil
}
