/**
 * @description
 * This is the main entry point for the account-service. It serves the comptes
 * HTTP API and relays account events from the outbox to RabbitMQ.
 *
 * Key features:
 * - Loads application configuration from environment variables.
 * - Opens connection pools to the primary and the archive databases.
 * - Wires the account service to its stores and starts the HTTP server.
 * - Runs the outbox dispatcher when RABBITMQ_URL is set.
 * - Implements graceful shutdown.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/thetaf313/ges-comptes/internal/api"
	"github.com/thetaf313/ges-comptes/internal/app"
	"github.com/thetaf313/ges-comptes/internal/config"
	"github.com/thetaf313/ges-comptes/internal/store"
	"github.com/thetaf313/ges-comptes/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("cannot load config", "error", err)
		os.Exit(1)
	}

	// If a platform-provided PORT is set, prefer it.
	if port := os.Getenv("PORT"); port != "" {
		cfg.ServerPort = port
	}

	ctx := context.Background()
	poolOpts := store.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}

	primary, err := store.NewPool(ctx, cfg.DatabaseURL, poolOpts)
	if err != nil {
		logger.Error("primary database unavailable", "error", err)
		os.Exit(1)
	}
	defer primary.Close()
	logger.Info("primary database connection established")

	archive, err := store.NewPool(ctx, cfg.ArchiveDatabaseURL, poolOpts)
	if err != nil {
		logger.Error("archive database unavailable", "error", err)
		os.Exit(1)
	}
	defer archive.Close()
	logger.Info("archive database connection established")

	compteRepo := store.NewCompteRepository(primary)
	archiveRepo := store.NewArchiveRepository(archive)
	clientRepo := store.NewClientRepository(primary)
	service := app.NewAccountService(compteRepo, archiveRepo, clientRepo, app.SystemClock{}, logger)

	dispatchCtx, stopDispatcher := context.WithCancel(ctx)
	defer stopDispatcher()
	if cfg.RabbitMQURL != "" {
		logger.Info("starting outbox dispatcher", "rabbitmq_url", rabbitmq.MaskURL(cfg.RabbitMQURL))
		dispatcher := app.NewOutboxDispatcher(
			store.NewOutboxRepository(primary),
			app.RabbitPublisherFactory(cfg.RabbitMQURL, logger),
			logger,
		)
		go dispatcher.Run(dispatchCtx)
	} else {
		logger.Warn("RABBITMQ_URL not set, account events stay in the outbox")
	}

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, API authentication disabled")
	}

	router := api.NewRouter(cfg, service, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down account-service")
	stopDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		return
	}
	logger.Info("server gracefully stopped")
}
