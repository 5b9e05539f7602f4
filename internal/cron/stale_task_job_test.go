package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

type fakeStaleTaskLister struct {
	tasks      []models.GenerationTask
	lastCutoff time.Time
	lastLimit  int
	err        error
}

func (f *fakeStaleTaskLister) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationTask, error) {
	f.lastCutoff = olderThan
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.tasks, nil
}

type fakeTaskFailer struct {
	failed       []uuid.UUID
	reasons      []string
	transitioned bool
	err          error
}

func (f *fakeTaskFailer) FailPendingTask(ctx context.Context, task *models.GenerationTask, reason string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.failed = append(f.failed, task.ID)
	f.reasons = append(f.reasons, reason)
	return f.transitioned, nil
}

func newStaleTaskJob(t *testing.T, lister *fakeStaleTaskLister, failer *fakeTaskFailer) *staleTaskJob {
	t.Helper()
	jobIface, err := NewStaleTaskJob(StaleTaskJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Tasks:     lister,
		Generator: failer,
	})
	if err != nil {
		t.Fatalf("NewStaleTaskJob: %v", err)
	}
	job, ok := jobIface.(*staleTaskJob)
	if !ok {
		t.Fatalf("expected staleTaskJob, got %T", jobIface)
	}
	return job
}

func TestStaleTaskJobFailsOldPendingTasks(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	lister := &fakeStaleTaskLister{tasks: []models.GenerationTask{
		{ID: uuid.New()},
		{ID: uuid.New()},
	}}
	failer := &fakeTaskFailer{transitioned: true}
	job := newStaleTaskJob(t, lister, failer)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.Add(-defaultStaleTaskAge)
	if !lister.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, lister.lastCutoff)
	}
	if lister.lastLimit != defaultStaleTaskBatch {
		t.Fatalf("expected batch %d, got %d", defaultStaleTaskBatch, lister.lastLimit)
	}
	if len(failer.failed) != 2 {
		t.Fatalf("expected 2 tasks failed, got %d", len(failer.failed))
	}
	for _, reason := range failer.reasons {
		if reason != staleTaskReason {
			t.Fatalf("unexpected reason %q", reason)
		}
	}
}

func TestStaleTaskJobToleratesLostGuards(t *testing.T) {
	lister := &fakeStaleTaskLister{tasks: []models.GenerationTask{{ID: uuid.New()}}}
	failer := &fakeTaskFailer{transitioned: false} // a poll beat the sweep
	job := newStaleTaskJob(t, lister, failer)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("losing the transition race is not an error: %v", err)
	}
}

func TestStaleTaskJobCollectsPerTaskErrors(t *testing.T) {
	lister := &fakeStaleTaskLister{tasks: []models.GenerationTask{{ID: uuid.New()}}}
	failer := &fakeTaskFailer{err: errors.New("db down")}
	job := newStaleTaskJob(t, lister, failer)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStaleTaskJobPropagatesListError(t *testing.T) {
	lister := &fakeStaleTaskLister{err: errors.New("boom")}
	job := newStaleTaskJob(t, lister, &fakeTaskFailer{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
