package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/internal/entitlements"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

// EntitlementGrantJobParams configures the recurring grant work.
type EntitlementGrantJobParams struct {
	Logger       *logger.Logger
	Entitlements entitlementsRepository
	Credits      creditGranter
}

type entitlementsRepository interface {
	ListActive(ctx context.Context) ([]models.Entitlement, error)
	MaxGrantedMonth(ctx context.Context, entitlementID uuid.UUID) (int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.EntitlementStatus) error
}

type creditGranter interface {
	Grant(ctx context.Context, input credits.GrantInput) (*models.CreditGrant, error)
}

// NewEntitlementGrantJob constructs the job that mints each active
// entitlement's due monthly grants.
func NewEntitlementGrantJob(params EntitlementGrantJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Entitlements == nil {
		return nil, fmt.Errorf("entitlements repository required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credits service required")
	}
	return &entitlementGrantJob{
		logg:         params.Logger,
		entitlements: params.Entitlements,
		credits:      params.Credits,
		now:          time.Now,
	}, nil
}

type entitlementGrantJob struct {
	logg         *logger.Logger
	entitlements entitlementsRepository
	credits      creditGranter
	now          func() time.Time
}

func (j *entitlementGrantJob) Name() string { return "entitlement-grant" }

// Run walks every active entitlement and grants all month ordinals that have
// come due since the last run. Grant idempotency keys make a rerun after a
// partial failure safe: already-granted months are replayed as no-ops.
func (j *entitlementGrantJob) Run(ctx context.Context) error {
	active, err := j.entitlements.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active entitlements: %w", err)
	}

	granted := 0
	var errs []error
	for _, entitlement := range active {
		count, err := j.processEntitlement(ctx, entitlement)
		granted += count
		if err != nil {
			errs = append(errs, fmt.Errorf("entitlement %s: %w", entitlement.ID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"entitlements":   len(active),
		"grants_created": granted,
		"failures":       len(errs),
	})
	j.logg.Info(logCtx, "entitlement grant sweep complete")
	return multierr.Combine(errs...)
}

func (j *entitlementGrantJob) processEntitlement(ctx context.Context, entitlement models.Entitlement) (int, error) {
	now := j.now().UTC()
	due := entitlements.MonthsElapsed(entitlement.AnchorAt, now)
	lastGranted, err := j.entitlements.MaxGrantedMonth(ctx, entitlement.ID)
	if err != nil {
		return 0, fmt.Errorf("recover granted months: %w", err)
	}

	granted := 0
	for month := lastGranted + 1; month <= due; month++ {
		dueAt := entitlement.AnchorAt.AddDate(0, month, 0)
		if entitlement.EndsAt != nil && !dueAt.Before(*entitlement.EndsAt) {
			break
		}
		expiresAt := now.Add(entitlements.DefaultMonthlyGrantTTL)
		if entitlement.EndsAt != nil && entitlement.EndsAt.Before(expiresAt) {
			expiresAt = *entitlement.EndsAt
		}
		if !expiresAt.After(now) {
			// Backfill for an already-ended entitlement would mint credits
			// that are expired on arrival; the ledger rejects past expiries.
			continue
		}
		key := entitlements.GrantKey(entitlement.ID, month)
		if _, err := j.credits.Grant(ctx, credits.GrantInput{
			UserID:         entitlement.UserID,
			Scene:          enums.SceneRecurringEntitlement,
			Amount:         entitlement.MonthlyCredits,
			ExpiresAt:      &expiresAt,
			IdempotencyKey: &key,
		}); err != nil {
			return granted, fmt.Errorf("grant month %d: %w", month, err)
		}
		granted++
	}

	if entitlement.EndsAt != nil && !now.Before(*entitlement.EndsAt) {
		if err := j.entitlements.UpdateStatus(ctx, entitlement.ID, enums.EntitlementStatusCanceled); err != nil {
			return granted, fmt.Errorf("close ended entitlement: %w", err)
		}
	}
	return granted, nil
}
