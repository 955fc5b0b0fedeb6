package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewgate/crewgate/internal/jobs"
	"github.com/crewgate/crewgate/internal/tracing"
)

// DefaultScanRetention is how long scan events are kept when no explicit
// retention is configured. Scan events tie a person to a place and time, so
// they are pruned once they are no longer needed for incident review.
const DefaultScanRetention = 90 * 24 * time.Hour

// RetentionJobConfig configures the scan retention job.
type RetentionJobConfig struct {
	Scans   ScanRepository // scan event repository
	Logger  *slog.Logger   // logger for job execution
	MaxAge  time.Duration  // scans older than this are removed
	DryRun  bool           // if true, only log what would be removed
	Metrics *jobs.Metrics  // optional job metrics
}

// RetentionJob prunes scan events past their retention period.
type RetentionJob struct {
	config RetentionJobConfig
}

// NewRetentionJob creates a new scan retention job.
func NewRetentionJob(config RetentionJobConfig) *RetentionJob {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultScanRetention
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &RetentionJob{config: config}
}

// Run removes scan events older than the retention period and returns how
// many were removed.
func (j *RetentionJob) Run(ctx context.Context) (_ int, err error) {
	ctx, end := tracing.StartSpan(ctx, "scan_retention")
	defer func() { end(err) }()

	start := time.Now()
	cutoff := start.UTC().Add(-j.config.MaxAge)

	j.config.Logger.Info("starting scan retention job",
		"cutoff", cutoff,
		"dry_run", j.config.DryRun,
	)

	if j.config.DryRun {
		return 0, nil
	}

	removed, err := j.config.Scans.DeleteOlderThan(ctx, cutoff)
	if j.config.Metrics != nil {
		j.config.Metrics.ObserveJobDuration(jobs.JobTypeScanRetention, time.Since(start).Seconds())
		if err != nil {
			j.config.Metrics.IncJobsTotal(jobs.JobTypeScanRetention, jobs.StatusFailure)
			j.config.Metrics.IncJobErrors(jobs.JobTypeScanRetention, "database_error")
		} else {
			j.config.Metrics.IncJobsTotal(jobs.JobTypeScanRetention, jobs.StatusSuccess)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("scan retention: %w", err)
	}

	j.config.Logger.Info("scan retention job finished", "removed", removed)
	return removed, nil
}
