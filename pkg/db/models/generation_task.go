package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/pixelmint-ai/pixelmint-backend/pkg/db/types"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

// GenerationTask records one image-generation request. CostCredits is frozen
// at creation and is the exact amount refunded if the task fails.
type GenerationTask struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Provider       enums.Provider      `gorm:"column:provider;type:provider;not null"`
	ExternalTaskID *string             `gorm:"column:external_task_id"`
	Scene          enums.CreditScene   `gorm:"column:scene;type:credit_scene;not null"`
	Prompt         string              `gorm:"column:prompt;not null"`
	Width          int                 `gorm:"column:width;not null"`
	Height         int                 `gorm:"column:height;not null"`
	NumImages      int                 `gorm:"column:num_images;not null;default:1"`
	CostCredits    int64               `gorm:"column:cost_credits;not null"`
	Status         enums.TaskStatus    `gorm:"column:status;type:task_status;not null;default:'pending'"`
	ResultRefs     dbtypes.StringArray `gorm:"column:result_refs;type:jsonb;not null;default:'[]'"`
	FailureReason  *string             `gorm:"column:failure_reason"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
