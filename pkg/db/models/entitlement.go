package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

// Entitlement schedules a recurring monthly credit grant. AnchorAt fixes the
// calendar-month cadence; the scheduler derives idempotency keys from the
// elapsed month ordinal so re-runs never double-grant.
type Entitlement struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	MonthlyCredits int64                   `gorm:"column:monthly_credits;not null"`
	AnchorAt       time.Time               `gorm:"column:anchor_at;not null"`
	EndsAt         *time.Time              `gorm:"column:ends_at"`
	Status         enums.EntitlementStatus `gorm:"column:status;type:entitlement_status;not null;default:'active'"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
