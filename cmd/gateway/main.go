package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abdm/gateway/internal/config"
	"github.com/abdm/gateway/internal/domain/bridge"
	"github.com/abdm/gateway/internal/domain/communication"
	"github.com/abdm/gateway/internal/domain/consent"
	"github.com/abdm/gateway/internal/domain/dataexchange"
	"github.com/abdm/gateway/internal/domain/linking"
	"github.com/abdm/gateway/internal/platform/apierr"
	"github.com/abdm/gateway/internal/platform/auth"
	"github.com/abdm/gateway/internal/platform/crypto"
	"github.com/abdm/gateway/internal/platform/db"
	"github.com/abdm/gateway/internal/platform/eventlog"
	"github.com/abdm/gateway/internal/platform/middleware"
	"github.com/abdm/gateway/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Health data exchange gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the audit log schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			return eventlog.NewPGStore(pool).Migrate(ctx)
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = "dev-gateway-secret"
		logger.Warn().Msg("JWT_SECRET not set; using development secret")
	}

	// Audit log store: Postgres when DATABASE_URL is set, in-memory otherwise.
	ctx := context.Background()
	var events eventlog.Store = eventlog.NewMemStore()
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		pg := eventlog.NewPGStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate audit log schema")
		}
		events = pg
		logger.Info().Msg("audit log backed by postgres")
	} else {
		logger.Info().Msg("DATABASE_URL not set; audit log is in-memory")
	}

	// Platform services
	tokenSvc := auth.NewTokenService(secret, cfg.TokenTTL(),
		auth.NewStaticCredentials(cfg.Credentials(), cfg.IsDev()))
	cipher := crypto.NewAESCipher(secret)

	bridgeSvc := bridge.NewService(bridge.NewMemRepo(), logger)

	attempts := webhook.NewMemAttemptStore()
	dispatcher := webhook.NewDispatcher(bridgeSvc, attempts, secret, logger,
		webhook.WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout()}),
		webhook.WithMaxAttempts(cfg.WebhookMaxAttempts),
		webhook.WithWorkers(cfg.WebhookWorkers),
	)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Domain services
	consentSvc := consent.NewService(consent.NewMemRepo(), cfg.ConsentValidity(), logger)
	linkingSvc := linking.NewService(linking.NewMemRepo(), cfg.LinkTokenTTL(), cfg.MaxOTPRetries, logger)
	exchangeSvc := dataexchange.NewService(dataexchange.NewMemRepo(), consentSvc, dispatcher,
		bridgeSvc, cipher, events, cfg.DataRequestTTL(), logger)
	commSvc := communication.NewService(dispatcher, events, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apierr.HTTPErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type",
			middleware.HeaderRequestID, middleware.HeaderTimestamp, middleware.HeaderCMID},
	}))
	e.Use(auth.Bearer(tokenSvc, auth.DefaultSkipper))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"cmId":    cfg.CMID,
			"version": "0.1.0",
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API groups. Mediated groups require the gateway protocol headers;
	// the /*/notify callback groups do not.
	api := e.Group("/api")
	headers := middleware.GatewayHeaders()

	auth.NewHandler(tokenSvc).RegisterRoutes(api.Group("/auth"))
	bridge.NewHandler(bridgeSvc).RegisterRoutes(api.Group("/bridge", headers))
	consent.NewHandler(consentSvc).RegisterRoutes(
		api.Group("/consent", headers), api.Group("/consent"))
	linking.NewHandler(linkingSvc).RegisterRoutes(
		api.Group("/link", headers), api.Group("/link"))
	dataexchange.NewHandler(exchangeSvc).RegisterRoutes(
		api.Group("/communication", headers), api.Group("/data", headers), api.Group("/data"))
	communication.NewHandler(commSvc).RegisterRoutes(api.Group("/communication", headers))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("cm_id", cfg.CMID).Msg("starting gateway")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("gateway stopped")
	return nil
}
