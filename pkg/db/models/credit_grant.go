package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

// CreditGrant is a bucket of prepaid credits. Available balance is the sum
// of RemainingCredits over active, unexpired rows; consume drains rows
// soonest-expiring-first.
type CreditGrant struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Scene            enums.CreditScene `gorm:"column:scene;type:credit_scene;not null"`
	Amount           int64             `gorm:"column:amount;not null"`
	RemainingCredits int64             `gorm:"column:remaining_credits;not null"`
	Status           enums.GrantStatus `gorm:"column:status;type:grant_status;not null;default:'active'"`
	ExpiresAt        *time.Time        `gorm:"column:expires_at"`
	IdempotencyKey   *string           `gorm:"column:idempotency_key;unique"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// Usable reports whether the grant can still cover a consume at the given time.
func (g CreditGrant) Usable(now time.Time) bool {
	if g.Status != enums.GrantStatusActive || g.RemainingCredits <= 0 {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
