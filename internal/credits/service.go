package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/metrics"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/outbox"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/outbox/payloads"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes the credit ledger: grants, balance, consumption, refunds,
// and the transaction audit log.
type Service interface {
	Grant(ctx context.Context, input GrantInput) (*models.CreditGrant, error)
	GrantTx(ctx context.Context, tx *gorm.DB, input GrantInput) (*models.CreditGrant, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Consume(ctx context.Context, input ConsumeInput) (*models.CreditTransaction, error)
	ConsumeTx(ctx context.Context, tx *gorm.DB, input ConsumeInput) (*models.CreditTransaction, error)
	Refund(ctx context.Context, input RefundInput) (*models.CreditGrant, error)
	RefundTx(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.CreditGrant, error)
	ListTransactions(ctx context.Context, params ListTransactionsParams) (*ListTransactionsResult, error)
}

// GrantInput describes a new credit grant. When IdempotencyKey is set and a
// grant with that key already exists the existing grant is returned untouched.
type GrantInput struct {
	UserID         uuid.UUID
	Scene          enums.CreditScene
	Amount         int64
	ExpiresAt      *time.Time
	IdempotencyKey *string
	Actor          *outbox.ActorRef
}

// ConsumeInput reserves credits for a unit of work. The drain spans as many
// grants as needed but produces a single audit row.
type ConsumeInput struct {
	UserID uuid.UUID
	Amount int64
	Scene  enums.CreditScene
	TaskID *uuid.UUID
}

// RefundInput returns credits to a user as a fresh non-expiring grant.
type RefundInput struct {
	UserID uuid.UUID
	Amount int64
	TaskID *uuid.UUID
}

// ListTransactionsParams pages through a user's audit log newest first.
type ListTransactionsParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor string
}

// ListTransactionsResult carries one page plus the cursor for the next.
type ListTransactionsResult struct {
	Items  []models.CreditTransaction
	Cursor string
}

type service struct {
	repo    Repository
	tx      txRunner
	emitter outboxEmitter
	metrics *metrics.GenerationMetrics
	now     func() time.Time
}

// NewService wires the credit ledger. The outbox emitter and metrics are
// optional; persistence and the transaction runner are not.
func NewService(repo Repository, tx txRunner, emitter outboxEmitter, m *metrics.GenerationMetrics) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credits repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		emitter: emitter,
		metrics: m,
		now:     time.Now,
	}, nil
}

func (s *service) Grant(ctx context.Context, input GrantInput) (*models.CreditGrant, error) {
	var grant *models.CreditGrant
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		grant, txErr = s.GrantTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (s *service) GrantTx(ctx context.Context, tx *gorm.DB, input GrantInput) (*models.CreditGrant, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Scene.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid credit scene")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grant amount must be positive")
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future")
	}

	repo := s.repo.WithTx(tx)

	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		existing, err := repo.FindGrantByIdempotencyKey(ctx, *input.IdempotencyKey)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup grant by idempotency key")
		}
		if existing != nil {
			return existing, nil
		}
	}

	grant := &models.CreditGrant{
		UserID:           input.UserID,
		Scene:            input.Scene,
		Amount:           input.Amount,
		RemainingCredits: input.Amount,
		Status:           enums.GrantStatusActive,
		ExpiresAt:        input.ExpiresAt,
		IdempotencyKey:   input.IdempotencyKey,
	}
	if err := repo.CreateGrant(ctx, grant); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create credit grant")
	}

	txn := &models.CreditTransaction{
		UserID:  input.UserID,
		Type:    enums.TransactionTypeGrant,
		Scene:   input.Scene,
		Amount:  input.Amount,
		GrantID: &grant.ID,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record grant transaction")
	}

	if s.emitter != nil {
		event := outbox.DomainEvent{
			EventType:     enums.EventCreditsGranted,
			AggregateType: enums.AggregateCreditGrant,
			AggregateID:   grant.ID,
			Actor:         input.Actor,
			Data: payloads.CreditsGrantedEvent{
				GrantID:   grant.ID,
				UserID:    grant.UserID,
				Scene:     grant.Scene,
				Amount:    grant.Amount,
				ExpiresAt: grant.ExpiresAt,
			},
			Version: 1,
		}
		if err := s.emitter.EmitIfNotExists(ctx, tx, event); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit credits granted event")
		}
	}
	return grant, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	total, err := s.repo.SumUsableCredits(ctx, userID, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum usable credits")
	}
	return total, nil
}

func (s *service) Consume(ctx context.Context, input ConsumeInput) (*models.CreditTransaction, error) {
	var txn *models.CreditTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		txn, txErr = s.ConsumeTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ConsumeTx drains usable grants soonest-expiring first under row locks.
// Either the full amount is reserved or nothing is.
func (s *service) ConsumeTx(ctx context.Context, tx *gorm.DB, input ConsumeInput) (*models.CreditTransaction, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "consume amount must be positive")
	}
	if !input.Scene.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid credit scene")
	}

	repo := s.repo.WithTx(tx)
	now := s.now()

	grants, err := repo.LockUsableGrants(ctx, input.UserID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock usable grants")
	}

	var available int64
	for _, grant := range grants {
		available += grant.RemainingCredits
	}
	if available < input.Amount {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientCredits, "not enough credits")
	}

	remainingToDrain := input.Amount
	var fundedBy []uuid.UUID
	for _, grant := range grants {
		if remainingToDrain == 0 {
			break
		}
		drain := grant.RemainingCredits
		if drain > remainingToDrain {
			drain = remainingToDrain
		}
		newRemaining := grant.RemainingCredits - drain
		status := grant.Status
		if newRemaining == 0 {
			status = enums.GrantStatusExhausted
		}
		if err := repo.UpdateGrantBalance(ctx, grant.ID, newRemaining, status); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drain credit grant")
		}
		fundedBy = append(fundedBy, grant.ID)
		remainingToDrain -= drain
	}

	txn := &models.CreditTransaction{
		UserID: input.UserID,
		Type:   enums.TransactionTypeConsume,
		Scene:  input.Scene,
		Amount: input.Amount,
		TaskID: input.TaskID,
	}
	// The audit row references a grant only when a single grant funded the
	// reservation; multi-grant drains leave grant_id empty.
	if len(fundedBy) == 1 {
		txn.GrantID = &fundedBy[0]
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record consume transaction")
	}

	s.metrics.AddCreditsConsumed(input.Amount)
	return txn, nil
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*models.CreditGrant, error) {
	var grant *models.CreditGrant
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		grant, txErr = s.RefundTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// RefundTx returns credits as a fresh non-expiring grant. Refunds never
// resurrect the original grant's expiry.
func (s *service) RefundTx(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.CreditGrant, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	repo := s.repo.WithTx(tx)
	grant := &models.CreditGrant{
		UserID:           input.UserID,
		Scene:            enums.SceneRefund,
		Amount:           input.Amount,
		RemainingCredits: input.Amount,
		Status:           enums.GrantStatusActive,
	}
	if err := repo.CreateGrant(ctx, grant); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund grant")
	}

	txn := &models.CreditTransaction{
		UserID:  input.UserID,
		Type:    enums.TransactionTypeGrant,
		Scene:   enums.SceneRefund,
		Amount:  input.Amount,
		GrantID: &grant.ID,
		TaskID:  input.TaskID,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund transaction")
	}

	s.metrics.AddCreditsRefunded(input.Amount)
	return grant, nil
}

func (s *service) ListTransactions(ctx context.Context, params ListTransactionsParams) (*ListTransactionsResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	query := TransactionQuery{
		UserID: params.UserID,
		Limit:  pagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, err := s.repo.ListTransactions(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit transactions")
	}

	nextCursor := ""
	if len(rows) > limit {
		nextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: rows[limit].CreatedAt,
			ID:        rows[limit].ID,
		})
		rows = rows[:limit]
	}
	return &ListTransactionsResult{Items: rows, Cursor: nextCursor}, nil
}
