// Package pipeline holds the scheduled maintenance jobs that run alongside
// the hot tick path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// BlobArchiver moves expired rows into cold storage. The S3 archiver
// implements it.
type BlobArchiver interface {
	ArchiveTicks(ctx context.Context, cutoff time.Time) (int64, error)
	ArchiveAlerts(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver runs the retention job: everything older than retentionDays is
// archived to cold storage and removed from the primary store.
type Archiver struct {
	blobArchiver  BlobArchiver
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(blobArchiver BlobArchiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "retention")),
	}
}

// Run executes a single archive pass over ticks and alert records.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	ticksArchived, err := a.blobArchiver.ArchiveTicks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving ticks before %v: %w", cutoff, err)
	}

	alertsArchived, err := a.blobArchiver.ArchiveAlerts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving alerts before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("ticks_archived", ticksArchived),
		slog.Int64("alerts_archived", alertsArchived),
	)
	return nil
}

// RunCron runs the archive pass on a standard 5-field cron schedule until the
// context is cancelled. A failed pass is logged and retried at the next
// trigger; the leftover rows are still there.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	c := cron.New()
	_, err := c.AddFunc(cronExpr, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("pipeline: parse cron expression %q: %w", cronExpr, err)
	}

	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))
	c.Start()

	<-ctx.Done()
	// Stop scheduling and wait for an in-flight pass to finish.
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
