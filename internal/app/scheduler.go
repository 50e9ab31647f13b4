/**
 * @description
 * Cron scheduler setup for the archival and unarchival sweeps.
 *
 * @notes
 * - cron.SkipIfStillRunning keeps a slow sweep from overlapping itself.
 * - When a SweepLocker is configured each run also takes a Redis lease so
 *   only one replica sweeps at a time.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/thetaf313/ges-comptes/internal/config"
	"github.com/thetaf313/ges-comptes/pkg/redislock"
)

// Sweep names, used for --run-once and as lease names.
const (
	JobArchive   = "archive"
	JobUnarchive = "unarchive"
)

// Lease is a held cross-replica lock.
type Lease interface {
	Release(ctx context.Context) error
}

// SweepLocker hands out leases for named sweeps.
type SweepLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// RedisSweepLocker adapts redislock.Locker to SweepLocker.
type RedisSweepLocker struct {
	Locker *redislock.Locker
}

func (r RedisSweepLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	lease, err := r.Locker.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	locker SweepLocker
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance. locker may be nil.
func NewScheduler(jobs *Jobs, locker SweepLocker, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		locker: locker,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.config.ArchiveJobSchedule, s.guarded(JobArchive, s.jobs.ArchiveExpiredBlockedAccounts)); err != nil {
		return fmt.Errorf("schedule archive job: %w", err)
	}
	s.logger.Info("scheduled archive job", "schedule", s.config.ArchiveJobSchedule)

	if _, err := s.cron.AddFunc(s.config.UnarchiveJobSchedule, s.guarded(JobUnarchive, s.jobs.UnarchiveExpiredBlockedAccounts)); err != nil {
		return fmt.Errorf("schedule unarchive job: %w", err)
	}
	s.logger.Info("scheduled unarchive job", "schedule", s.config.UnarchiveJobSchedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce runs a single sweep synchronously under the same lease as the cron job.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (SweepReport, error) {
	var run func(context.Context) (SweepReport, error)
	switch name {
	case JobArchive:
		run = s.jobs.RunArchiveSweep
	case JobUnarchive:
		run = s.jobs.RunUnarchiveSweep
	default:
		return SweepReport{}, fmt.Errorf("unknown job %q (expected %q or %q)", name, JobArchive, JobUnarchive)
	}

	var (
		report SweepReport
		err    error
		ran    bool
	)
	s.withLease(ctx, name, func() {
		ran = true
		report, err = run(ctx)
	})
	if !ran {
		return report, redislock.ErrNotAcquired
	}
	return report, err
}

func (s *Scheduler) guarded(name string, run func()) func() {
	return func() {
		s.withLease(context.Background(), name, run)
	}
}

// withLease runs fn while holding the named lease. A lease held elsewhere skips
// the run; an unreachable Redis does not, since every move is row-locked and
// idempotent.
func (s *Scheduler) withLease(ctx context.Context, name string, fn func()) {
	if s.locker == nil {
		fn()
		return
	}

	ttl := s.config.SweepTimeout() + time.Minute
	lease, err := s.locker.Acquire(ctx, name, ttl)
	switch {
	case errors.Is(err, redislock.ErrNotAcquired):
		s.logger.Info("sweep already running on another replica, skipping", "job", name)
		return
	case err != nil:
		s.logger.Warn("could not acquire sweep lease, running without it", "job", name, "error", err)
		fn()
		return
	}

	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			s.logger.Warn("failed to release sweep lease", "job", name, "error", err)
		}
	}()
	fn()
}
