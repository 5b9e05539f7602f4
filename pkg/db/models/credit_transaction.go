package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

// CreditTransaction is an immutable audit entry. Consume writes exactly one
// row for the total even when the amount is decomposed across several grants.
type CreditTransaction struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	Type      enums.TransactionType `gorm:"column:type;type:transaction_type;not null"`
	Scene     enums.CreditScene     `gorm:"column:scene;type:credit_scene;not null"`
	Amount    int64                 `gorm:"column:amount;not null"`
	GrantID   *uuid.UUID            `gorm:"column:grant_id;type:uuid"`
	TaskID    *uuid.UUID            `gorm:"column:task_id;type:uuid;index"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
}
