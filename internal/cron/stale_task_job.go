package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

const (
	defaultStaleTaskAge   = 30 * time.Minute
	defaultStaleTaskBatch = 100

	staleTaskReason = "timed out waiting for a provider result"
)

// StaleTaskJobParams configures the stuck-task sweep.
type StaleTaskJobParams struct {
	Logger    *logger.Logger
	Tasks     staleTaskLister
	Generator taskFailer
	MaxAge    time.Duration
	BatchSize int
}

type staleTaskLister interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationTask, error)
}

type taskFailer interface {
	FailPendingTask(ctx context.Context, task *models.GenerationTask, reason string) (bool, error)
}

// NewStaleTaskJob constructs the job that fails and refunds generation tasks
// stuck in pending past the age limit.
func NewStaleTaskJob(params StaleTaskJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tasks == nil {
		return nil, fmt.Errorf("tasks repository required")
	}
	if params.Generator == nil {
		return nil, fmt.Errorf("generation service required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultStaleTaskAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultStaleTaskBatch
	}
	return &staleTaskJob{
		logg:      params.Logger,
		tasks:     params.Tasks,
		generator: params.Generator,
		maxAge:    maxAge,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type staleTaskJob struct {
	logg      *logger.Logger
	tasks     staleTaskLister
	generator taskFailer
	maxAge    time.Duration
	batch     int
	now       func() time.Time
}

func (j *staleTaskJob) Name() string { return "stale-task-sweep" }

// Run fails every pending task older than the age limit. The pending-status
// guard inside FailPendingTask makes the sweep safe to race with a concurrent
// poll delivering a late result: whoever transitions first wins and the loser
// is a no-op.
func (j *staleTaskJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	stale, err := j.tasks.ListStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale tasks: %w", err)
	}

	failed, skipped := 0, 0
	var errs []error
	for i := range stale {
		task := stale[i]
		transitioned, err := j.generator.FailPendingTask(ctx, &task, staleTaskReason)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", task.ID, err))
			continue
		}
		if transitioned {
			failed++
		} else {
			skipped++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"failed":  failed,
		"skipped": skipped,
		"errors":  len(errs),
	})
	j.logg.Info(logCtx, "stale task sweep complete")
	return multierr.Combine(errs...)
}
