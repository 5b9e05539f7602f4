package entitlements

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

// Repository manages persistence for recurring entitlements.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entitlement *models.Entitlement) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Entitlement, error)
	ListActive(ctx context.Context) ([]models.Entitlement, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.EntitlementStatus) error
	MaxGrantedMonth(ctx context.Context, entitlementID uuid.UUID) (int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an entitlements repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entitlement *models.Entitlement) error {
	return r.db.WithContext(ctx).Create(entitlement).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Entitlement, error) {
	var row models.Entitlement
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListActive(ctx context.Context) ([]models.Entitlement, error) {
	var rows []models.Entitlement
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.EntitlementStatusActive).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.EntitlementStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Entitlement{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// MaxGrantedMonth recovers the highest month ordinal already granted for the
// entitlement by scanning grant idempotency keys. Returns -1 when no month
// has been granted yet.
func (r *repository) MaxGrantedMonth(ctx context.Context, entitlementID uuid.UUID) (int, error) {
	prefix := fmt.Sprintf("entitlement:%s:month:", entitlementID)
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&models.CreditGrant{}).
		Where("idempotency_key LIKE ?", prefix+"%").
		Pluck("idempotency_key", &keys).Error
	if err != nil {
		return -1, err
	}
	max := -1
	for _, key := range keys {
		if month := ParseGrantKeyMonth(key); month > max {
			max = month
		}
	}
	return max, nil
}
