package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarryai/quarry/internal/repo"
)

const sweepBatchSize = 200

// StaleJobSweeper cancels ingestion jobs stuck in queued or running past
// the configured age, usually because the process died mid-ingestion.
type StaleJobSweeper struct {
	jobs   *repo.IngestionJobRepo
	maxAge time.Duration
}

func NewStaleJobSweeper(jobs *repo.IngestionJobRepo, maxAge time.Duration) *StaleJobSweeper {
	return &StaleJobSweeper{jobs: jobs, maxAge: maxAge}
}

func (j *StaleJobSweeper) Name() string {
	return "stale_job_sweeper"
}

func (j *StaleJobSweeper) Run(ctx context.Context) error {
	if j.jobs == nil {
		return nil
	}
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	stale, err := j.jobs.ListStale(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx)
	cancelled := 0
	for _, job := range stale {
		ok, err := j.jobs.CancelIf(ctx, job.TenantID, job.ID, job.Status)
		if err != nil {
			logger.Warn("cancel stale job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if ok {
			cancelled++
		}
	}
	if cancelled > 0 {
		logger.Info("stale ingestion jobs cancelled", zap.Int("count", cancelled))
	}
	return nil
}
