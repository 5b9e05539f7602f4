package entitlements

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

func setupEntitlementsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	entitlements := `
CREATE TABLE IF NOT EXISTS entitlements (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  monthly_credits INTEGER NOT NULL,
  anchor_at DATETIME NOT NULL,
  ends_at DATETIME,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  updated_at DATETIME
);`
	grants := `
CREATE TABLE IF NOT EXISTS credit_grants (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  scene TEXT NOT NULL,
  amount INTEGER NOT NULL,
  remaining_credits INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  expires_at DATETIME,
  idempotency_key TEXT UNIQUE,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(entitlements).Error)
	require.NoError(t, db.Exec(grants).Error)
	return db
}

func createEntitlement(t *testing.T, db *gorm.DB, status enums.EntitlementStatus) *models.Entitlement {
	t.Helper()

	row := &models.Entitlement{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		MonthlyCredits: 100,
		AnchorAt:       time.Now().Add(-90 * 24 * time.Hour),
		Status:         status,
	}
	require.NoError(t, db.Create(row).Error)
	return row
}

func TestRepositoryListActive(t *testing.T) {
	db := setupEntitlementsTestDB(t)
	repo := NewRepository(db)

	active := createEntitlement(t, db, enums.EntitlementStatusActive)
	createEntitlement(t, db, enums.EntitlementStatusCanceled)

	rows, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, active.ID, rows[0].ID)
}

func TestRepositoryMaxGrantedMonth(t *testing.T) {
	db := setupEntitlementsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	entitlement := createEntitlement(t, db, enums.EntitlementStatusActive)

	max, err := repo.MaxGrantedMonth(ctx, entitlement.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, max)

	for _, month := range []int{0, 1, 2} {
		key := GrantKey(entitlement.ID, month)
		grant := &models.CreditGrant{
			ID:               uuid.New(),
			UserID:           entitlement.UserID,
			Scene:            enums.SceneRecurringEntitlement,
			Amount:           100,
			RemainingCredits: 100,
			Status:           enums.GrantStatusActive,
			IdempotencyKey:   &key,
		}
		require.NoError(t, db.Create(grant).Error)
	}

	// A different entitlement's keys must not leak into the scan.
	otherKey := GrantKey(uuid.New(), 9)
	require.NoError(t, db.Create(&models.CreditGrant{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Scene:            enums.SceneRecurringEntitlement,
		Amount:           100,
		RemainingCredits: 100,
		Status:           enums.GrantStatusActive,
		IdempotencyKey:   &otherKey,
	}).Error)

	max, err = repo.MaxGrantedMonth(ctx, entitlement.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, max)
}

func TestRepositoryUpdateStatus(t *testing.T) {
	db := setupEntitlementsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	row := createEntitlement(t, db, enums.EntitlementStatusActive)
	require.NoError(t, repo.UpdateStatus(ctx, row.ID, enums.EntitlementStatusCanceled))

	stored, err := repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EntitlementStatusCanceled, stored.Status)
}
