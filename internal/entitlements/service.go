package entitlements

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
)

// Service manages recurring credit entitlements. The monthly grants
// themselves are driven by the cron worker's grant job.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Entitlement, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// CreateInput describes a new recurring entitlement. AnchorAt defaults to
// creation time; month ordinals count from it.
type CreateInput struct {
	UserID         uuid.UUID
	MonthlyCredits int64
	AnchorAt       *time.Time
	EndsAt         *time.Time
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires an entitlements service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlements repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Entitlement, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.MonthlyCredits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "monthly credits must be positive")
	}

	anchor := s.now().UTC()
	if input.AnchorAt != nil {
		anchor = input.AnchorAt.UTC()
	}
	if input.EndsAt != nil && !input.EndsAt.After(anchor) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ends_at must be after the anchor")
	}

	entitlement := &models.Entitlement{
		UserID:         input.UserID,
		MonthlyCredits: input.MonthlyCredits,
		AnchorAt:       anchor,
		EndsAt:         input.EndsAt,
		Status:         enums.EntitlementStatusActive,
	}
	if err := s.repo.Create(ctx, entitlement); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create entitlement")
	}
	return entitlement, nil
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "entitlement id is required")
	}
	entitlement, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup entitlement")
	}
	if entitlement.Status == enums.EntitlementStatusCanceled {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, id, enums.EntitlementStatusCanceled); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel entitlement")
	}
	return nil
}
