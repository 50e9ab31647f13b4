/**
 * @description
 * Scheduled job implementations: the archival sweep (activate due scheduled
 * blocks, then move expired blocked savings accounts to the archive store) and
 * the unarchival sweep (restore archived accounts whose block has ended).
 *
 * @notes
 * - Each account is one unit of work. A failing account is logged and skipped.
 * - A sweep stops picking new accounts once its timeout elapses; the rest are
 *   left for the next run.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thetaf313/ges-comptes/internal/config"
	"github.com/thetaf313/ges-comptes/internal/domain"
	"github.com/thetaf313/ges-comptes/internal/store"
)

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Activated int
	Moved     int
	Skipped   int
	Failed    int
	Deferred  int
}

// Jobs contains the logic for the scheduled sweeps.
type Jobs struct {
	comptes     AccountStore
	archives    ArchiveStore
	clock       Clock
	logger      *slog.Logger
	config      config.Config
	moveTimeout time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(comptes AccountStore, archives ArchiveStore, clock Clock, logger *slog.Logger, cfg config.Config) *Jobs {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Jobs{
		comptes:     comptes,
		archives:    archives,
		clock:       clock,
		logger:      logger,
		config:      cfg,
		moveTimeout: cfg.MoveTimeout(),
	}
}

// ArchiveExpiredBlockedAccounts is the cron entry point of the archival sweep.
func (j *Jobs) ArchiveExpiredBlockedAccounts() {
	j.logger.Info("starting archive expired blocked accounts job")
	report, err := j.RunArchiveSweep(context.Background())
	if err != nil {
		j.logger.Error("archive job finished with errors", "error", err)
	}
	j.logger.Info("archive expired blocked accounts job finished",
		"activated", report.Activated,
		"archived", report.Moved,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"deferred", report.Deferred,
	)
}

// UnarchiveExpiredBlockedAccounts is the cron entry point of the unarchival sweep.
func (j *Jobs) UnarchiveExpiredBlockedAccounts() {
	j.logger.Info("starting unarchive expired blocked accounts job")
	report, err := j.RunUnarchiveSweep(context.Background())
	if err != nil {
		j.logger.Error("unarchive job finished with errors", "error", err)
	}
	j.logger.Info("unarchive expired blocked accounts job finished",
		"restored", report.Moved,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"deferred", report.Deferred,
	)
}

// RunArchiveSweep activates scheduled blocks whose start has arrived, then
// archives blocked savings accounts whose end date has passed.
func (j *Jobs) RunArchiveSweep(ctx context.Context) (SweepReport, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.SweepTimeout())
	defer cancel()

	now := j.clock.Now()
	var (
		report SweepReport
		errs   []error
	)

	activated, err := j.comptes.ActivateScheduledBlocks(ctx, now)
	if err != nil {
		j.logger.Error("failed to activate scheduled blocks", "error", err)
		errs = append(errs, fmt.Errorf("activate scheduled blocks: %w", err))
	} else {
		report.Activated = len(activated)
		for _, id := range activated {
			j.logger.Info("scheduled block activated", "compte_id", id)
		}
	}

	ids, err := j.comptes.ListExpiredBlockedIDs(ctx, now)
	if err != nil {
		j.logger.Error("failed to list expired blocked accounts", "error", err)
		return report, errors.Join(append(errs, fmt.Errorf("list expired blocked accounts: %w", err))...)
	}
	if len(ids) == 0 {
		j.logger.Info("no expired blocked accounts to archive")
		return report, errors.Join(errs...)
	}
	j.logger.Info("found expired blocked accounts to archive", "count", len(ids))

	j.each(ctx, ids, &report, func(moveCtx context.Context, id string) error {
		return j.comptes.DetachForArchive(moveCtx, id, now, func(ctx context.Context, snapshot domain.CompteSnapshot) error {
			return j.archives.SaveSnapshot(ctx, snapshot, now)
		})
	}, "archive")

	return report, errors.Join(errs...)
}

// RunUnarchiveSweep restores archived savings accounts whose block has ended.
func (j *Jobs) RunUnarchiveSweep(ctx context.Context) (SweepReport, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.SweepTimeout())
	defer cancel()

	now := j.clock.Now()
	var report SweepReport

	ids, err := j.archives.ListExpiredIDs(ctx, now)
	if err != nil {
		j.logger.Error("failed to list expired archived accounts", "error", err)
		return report, fmt.Errorf("list expired archived accounts: %w", err)
	}
	if len(ids) == 0 {
		j.logger.Info("no archived accounts to restore")
		return report, nil
	}
	j.logger.Info("found archived accounts to restore", "count", len(ids))

	j.each(ctx, ids, &report, func(moveCtx context.Context, id string) error {
		return j.archives.ReleaseExpired(moveCtx, id, now, func(ctx context.Context, snapshot domain.CompteSnapshot) error {
			snapshot.Compte.RestoreFromArchive(now)
			return j.comptes.RestoreSnapshot(ctx, snapshot)
		})
	}, "unarchive")

	return report, nil
}

// each runs move for every id until ctx expires. An in-flight move is not
// interrupted by the sweep deadline but is bounded by its own move timeout.
func (j *Jobs) each(ctx context.Context, ids []string, report *SweepReport, move func(context.Context, string) error, op string) {
	for i, id := range ids {
		if ctx.Err() != nil {
			report.Deferred = len(ids) - i
			j.logger.Warn("sweep timeout reached, deferring remaining accounts",
				"operation", op,
				"deferred", report.Deferred,
				"timeout", j.config.SweepTimeout().String(),
			)
			for _, rest := range ids[i:] {
				j.logger.Info("account deferred to next run", "operation", op, "compte_id", rest)
			}
			return
		}

		started := time.Now()
		moveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.moveTimeout)
		err := move(moveCtx, id)
		cancel()
		switch {
		case err == nil:
			report.Moved++
			j.logger.Info("account moved", "operation", op, "compte_id", id, "duration", time.Since(started).String())
		case errors.Is(err, store.ErrNotEligible):
			report.Skipped++
			j.logger.Info("account no longer eligible, skipping", "operation", op, "compte_id", id)
		default:
			report.Failed++
			j.logger.Error("failed to move account", "operation", op, "compte_id", id, "error", err)
		}
	}
}
