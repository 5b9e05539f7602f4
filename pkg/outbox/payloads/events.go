package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

// GenerationSucceededEvent is emitted when a task reaches its terminal
// success state; ResultRefs hold the final artifact locations.
type GenerationSucceededEvent struct {
	TaskID      uuid.UUID      `json:"task_id"`
	UserID      uuid.UUID      `json:"user_id"`
	Provider    enums.Provider `json:"provider"`
	CostCredits int64          `json:"cost_credits"`
	ResultRefs  []string       `json:"result_refs"`
	CompletedAt time.Time      `json:"completed_at"`
}

// GenerationFailedEvent is emitted on the pending-to-failed transition,
// alongside exactly one matching refund.
type GenerationFailedEvent struct {
	TaskID          uuid.UUID      `json:"task_id"`
	UserID          uuid.UUID      `json:"user_id"`
	Provider        enums.Provider `json:"provider"`
	RefundedCredits int64          `json:"refunded_credits"`
	Reason          string         `json:"reason,omitempty"`
	FailedAt        time.Time      `json:"failed_at"`
}

// CreditsGrantedEvent is emitted for every new grant row, whatever its scene.
type CreditsGrantedEvent struct {
	GrantID   uuid.UUID         `json:"grant_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Scene     enums.CreditScene `json:"scene"`
	Amount    int64             `json:"amount"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}
