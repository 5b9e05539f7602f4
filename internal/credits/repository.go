package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/pagination"
)

// Repository manages persistence for credit grants and the transaction audit log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateGrant(ctx context.Context, grant *models.CreditGrant) error
	FindGrantByID(ctx context.Context, id uuid.UUID) (*models.CreditGrant, error)
	FindGrantByIdempotencyKey(ctx context.Context, key string) (*models.CreditGrant, error)
	LockUsableGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.CreditGrant, error)
	UpdateGrantBalance(ctx context.Context, id uuid.UUID, remaining int64, status enums.GrantStatus) error
	SumUsableCredits(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error
	ListTransactions(ctx context.Context, query TransactionQuery) ([]models.CreditTransaction, error)
	ExpireDueGrants(ctx context.Context, now time.Time) (int64, error)
}

// TransactionQuery drives cursor pagination over a user's audit log.
type TransactionQuery struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateGrant(ctx context.Context, grant *models.CreditGrant) error {
	return r.db.WithContext(ctx).Create(grant).Error
}

func (r *repository) FindGrantByID(ctx context.Context, id uuid.UUID) (*models.CreditGrant, error) {
	var grant models.CreditGrant
	if err := r.db.WithContext(ctx).First(&grant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *repository) FindGrantByIdempotencyKey(ctx context.Context, key string) (*models.CreditGrant, error) {
	var grant models.CreditGrant
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&grant).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

// LockUsableGrants takes row locks on every grant that can still fund a
// consumption, ordered so grants closest to expiry drain first. Must run
// inside a transaction.
func (r *repository) LockUsableGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.CreditGrant, error) {
	var grants []models.CreditGrant
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Where("status = ?", enums.GrantStatusActive).
		Where("remaining_credits > 0").
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END, expires_at ASC, created_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) UpdateGrantBalance(ctx context.Context, id uuid.UUID, remaining int64, status enums.GrantStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.CreditGrant{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"remaining_credits": remaining,
			"status":            status,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (r *repository) SumUsableCredits(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditGrant{}).
		Select("COALESCE(SUM(remaining_credits), 0)").
		Where("user_id = ?", userID).
		Where("status = ?", enums.GrantStatusActive).
		Where("remaining_credits > 0").
		Where("expires_at IS NULL OR expires_at > ?", now).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, query TransactionQuery) ([]models.CreditTransaction, error) {
	db := r.db.WithContext(ctx).
		Where("user_id = ?", query.UserID).
		Order("created_at DESC, id DESC").
		Limit(query.Limit)
	if query.Cursor != nil {
		db = db.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			query.Cursor.CreatedAt, query.Cursor.CreatedAt, query.Cursor.ID,
		)
	}
	var txns []models.CreditTransaction
	if err := db.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// ExpireDueGrants flips active grants whose expiry has passed. Returns the
// number of rows touched so the cron job can log its sweep.
func (r *repository) ExpireDueGrants(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CreditGrant{}).
		Where("status = ?", enums.GrantStatusActive).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Updates(map[string]any{
			"status":     enums.GrantStatusExpired,
			"updated_at": now.UTC(),
		})
	return result.RowsAffected, result.Error
}
