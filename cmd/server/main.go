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

	"gdp_atlas_go/config"
	"gdp_atlas_go/db"
	"gdp_atlas_go/handlers"
	"gdp_atlas_go/logging"
	"gdp_atlas_go/middleware"
	"gdp_atlas_go/services"
	"gdp_atlas_go/services/jobs"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	database, err := db.Open(cfg)
	if err != nil {
		logger.Fatalw("failed to open database", "driver", cfg.DBDriver, "error", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		logger.Fatalw("failed to run migrations", "error", err)
	}
	logger.Infow("database ready", "driver", cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Country reference data
	if cfg.SeedCountries {
		result, err := services.SeedCountriesFromFile(ctx, database, cfg.CountriesFile)
		if err != nil {
			logger.Fatalw("failed to load countries", "file", cfg.CountriesFile, "error", err)
		}
		logger.Infow("countries loaded", "file", cfg.CountriesFile, "created", result.Created, "skipped", result.Skipped)
	}

	storage := services.NewStorage(cfg, logger)
	api := handlers.NewAPI(database, storage, logger)

	// Scheduled dataset snapshots
	if cfg.ExportSchedule != "" {
		scheduler, err := jobs.StartExportScheduler(cfg.ExportSchedule, &jobs.ExportJob{
			DB:       database,
			Exporter: api.Exporter,
			Storage:  storage,
			Logger:   logger,
			Keep:     cfg.ExportKeep,
		})
		if err != nil {
			logger.Fatalw("failed to start export scheduler", "error", err)
		}
		defer func() {
			<-scheduler.Stop().Done()
		}()
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echomiddleware.BodyLimit("32M"))

	// Write routes are rate limited per client and require the write token
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Requests: cfg.RateLimitRequests,
		Window:   time.Duration(cfg.RateLimitWindow) * time.Second,
	})
	defer limiter.Stop()

	api.Register(e, limiter.Middleware(), middleware.RequireWriteToken(cfg.WriteTokenHash))

	// Start server
	go func() {
		logger.Infow("server starting", "port", cfg.ServerPort, "environment", cfg.Environment)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "error", err)
	}
}
