package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

// GrantExpiryJobParams configures the grant expiry sweep.
type GrantExpiryJobParams struct {
	Logger *logger.Logger
	Grants grantExpirer
}

type grantExpirer interface {
	ExpireDueGrants(ctx context.Context, now time.Time) (int64, error)
}

// NewGrantExpiryJob constructs the job that flips past-expiry grants from
// active to expired. Balance math already excludes expired grants; the sweep
// keeps grant statuses honest for reporting and the admin surface.
func NewGrantExpiryJob(params GrantExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Grants == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	return &grantExpiryJob{
		logg:   params.Logger,
		grants: params.Grants,
		now:    time.Now,
	}, nil
}

type grantExpiryJob struct {
	logg   *logger.Logger
	grants grantExpirer
	now    func() time.Time
}

func (j *grantExpiryJob) Name() string { return "grant-expiry" }

func (j *grantExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	expired, err := j.grants.ExpireDueGrants(ctx, now)
	if err != nil {
		return fmt.Errorf("expire due grants: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"rows_expired": expired})
	j.logg.Info(logCtx, "grant expiry sweep complete")
	return nil
}
