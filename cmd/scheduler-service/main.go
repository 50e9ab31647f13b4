/**
 * @description
 * This is the main entry point for the scheduler-service.
 * This service is a non-HTTP, long-running process that runs the archival and
 * unarchival sweeps on their cron schedules. With --run-once it runs a single
 * sweep and exits, which suits an external cron or a Kubernetes CronJob.
 */
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/thetaf313/ges-comptes/internal/app"
	"github.com/thetaf313/ges-comptes/internal/config"
	"github.com/thetaf313/ges-comptes/internal/store"
	"github.com/thetaf313/ges-comptes/pkg/redislock"
)

func main() {
	runOnce := pflag.String("run-once", "", "run a single sweep (archive|unarchive) and exit")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	poolOpts := store.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}

	primary, err := store.NewPool(ctx, cfg.DatabaseURL, poolOpts)
	if err != nil {
		logger.Error("primary database unavailable", "error", err)
		os.Exit(1)
	}
	defer primary.Close()

	archive, err := store.NewPool(ctx, cfg.ArchiveDatabaseURL, poolOpts)
	if err != nil {
		logger.Error("archive database unavailable", "error", err)
		os.Exit(1)
	}
	defer archive.Close()
	logger.Info("database connections established")

	var locker app.SweepLocker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, sweeps will run without a lease until it recovers", "error", err)
		}
		locker = app.RedisSweepLocker{Locker: redislock.New(client, cfg.RedisLockPrefix)}
	}

	jobs := app.NewJobs(store.NewCompteRepository(primary), store.NewArchiveRepository(archive), app.SystemClock{}, logger, *cfg)
	scheduler := app.NewScheduler(jobs, locker, logger, *cfg)

	if *runOnce != "" {
		report, err := scheduler.RunOnce(ctx, *runOnce)
		switch {
		case errors.Is(err, redislock.ErrNotAcquired):
			logger.Info("sweep skipped, another replica holds the lease", "job", *runOnce)
			return
		case err != nil:
			logger.Error("sweep failed", "job", *runOnce, "error", err)
			os.Exit(1)
		}
		logger.Info("sweep finished",
			"job", *runOnce,
			"activated", report.Activated,
			"moved", report.Moved,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"deferred", report.Deferred,
		)
		if report.Failed > 0 {
			os.Exit(2)
		}
		return
	}

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for running sweeps to finish
	logger.Info("scheduler stopped gracefully")
}
