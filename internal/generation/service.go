package generation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation/providers"
	"github.com/pixelmint-ai/pixelmint-backend/internal/tasks"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	dbtypes "github.com/pixelmint-ai/pixelmint-backend/pkg/db/types"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/metrics"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/outbox"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/outbox/payloads"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/pagination"
)

const (
	defaultSubmitTimeout = 30 * time.Second
	defaultPollTimeout   = 10 * time.Second
)

type creditLedger interface {
	ConsumeTx(ctx context.Context, tx *gorm.DB, input credits.ConsumeInput) (*models.CreditTransaction, error)
	RefundTx(ctx context.Context, tx *gorm.DB, input credits.RefundInput) (*models.CreditGrant, error)
}

type artifactRelocator interface {
	Relocate(ctx context.Context, userID uuid.UUID, refs []string) []string
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives a generation request from reservation to a terminal task:
// credits reserved exactly once up front, providers tried in priority order,
// and on any terminal failure the reservation refunded exactly once.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*models.GenerationTask, error)
	GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error)
	ListTasks(ctx context.Context, params ListParams) (*ListResult, error)
	FailPendingTask(ctx context.Context, task *models.GenerationTask, reason string) (bool, error)
}

// SubmitInput is one validated generation request.
type SubmitInput struct {
	UserID    uuid.UUID
	Prompt    string
	Width     int
	Height    int
	NumImages int
}

// ListParams pages through a user's tasks newest first.
type ListParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor string
}

// ListResult carries one page plus the cursor for the next.
type ListResult struct {
	Items  []models.GenerationTask
	Cursor string
}

// ServiceParams wire the orchestrator.
type ServiceParams struct {
	Ledger            creditLedger
	Tasks             tasks.Repository
	Adapters          []providers.Adapter
	Relocator         artifactRelocator
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.GenerationMetrics
	SubmitTimeout     time.Duration
	PollTimeout       time.Duration
}

type service struct {
	ledger        creditLedger
	tasks         tasks.Repository
	adapters      []providers.Adapter
	byName        map[enums.Provider]providers.Adapter
	relocator     artifactRelocator
	outbox        outboxEmitter
	tx            txRunner
	logg          *logger.Logger
	metrics       *metrics.GenerationMetrics
	submitTimeout time.Duration
	pollTimeout   time.Duration
	now           func() time.Time
}

// NewService builds the orchestrator. At least one provider adapter is
// required; the slice order is the fallback priority.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit ledger required")
	}
	if params.Tasks == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tasks repository required")
	}
	if len(params.Adapters) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "at least one provider adapter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	byName := make(map[enums.Provider]providers.Adapter, len(params.Adapters))
	for _, adapter := range params.Adapters {
		byName[adapter.Name()] = adapter
	}
	submitTimeout := params.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = defaultSubmitTimeout
	}
	pollTimeout := params.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &service{
		ledger:        params.Ledger,
		tasks:         params.Tasks,
		adapters:      params.Adapters,
		byName:        byName,
		relocator:     params.Relocator,
		outbox:        params.Outbox,
		tx:            params.TransactionRunner,
		logg:          params.Logger,
		metrics:       params.Metrics,
		submitTimeout: submitTimeout,
		pollTimeout:   pollTimeout,
		now:           time.Now,
	}, nil
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*models.GenerationTask, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user identity missing")
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prompt is required")
	}
	cost, err := CostCredits(input.Width, input.Height, input.NumImages)
	if err != nil {
		return nil, err
	}

	task := &models.GenerationTask{
		ID:          uuid.New(),
		UserID:      input.UserID,
		Provider:    s.adapters[0].Name(),
		Scene:       enums.SceneImageGeneration,
		Prompt:      strings.TrimSpace(input.Prompt),
		Width:       input.Width,
		Height:      input.Height,
		NumImages:   input.NumImages,
		CostCredits: cost,
		Status:      enums.TaskStatusPending,
		ResultRefs:  dbtypes.StringArray{},
	}

	// Reservation and task creation are one atomic step; no provider has
	// been contacted yet.
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.ledger.ConsumeTx(ctx, tx, credits.ConsumeInput{
			UserID: input.UserID,
			Amount: cost,
			Scene:  enums.SceneImageGeneration,
			TaskID: &task.ID,
		}); err != nil {
			return err
		}
		return s.tasks.WithTx(tx).Create(ctx, task)
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve credits")
	}

	taskCtx := s.logg.WithTaskID(ctx, task.ID.String())
	spec := providers.RequestSpec{
		Prompt:    task.Prompt,
		Width:     task.Width,
		Height:    task.Height,
		NumImages: task.NumImages,
	}

	accepted := s.runProviderChain(taskCtx, task, spec)
	if accepted == nil {
		// Full-chain failure: no provider work happened, so the entire
		// reservation comes back.
		reason := "no provider accepted the request"
		if _, err := s.FailPendingTask(ctx, task, reason); err != nil {
			return nil, err
		}
		task.Status = enums.TaskStatusFailed
		task.FailureReason = &reason
		return task, nil
	}

	if accepted.Terminal() {
		if err := s.completeTask(taskCtx, task, accepted.ResultRefs); err != nil {
			return nil, err
		}
		return task, nil
	}

	task.ExternalTaskID = &accepted.ExternalTaskID
	return task, nil
}

// runProviderChain tries each adapter once in priority order and returns the
// first accepted submit, recording the winning provider on the task. Both
// retryable and permanent submit failures advance to the next adapter:
// bounding user latency outranks retrying a single provider here.
func (s *service) runProviderChain(ctx context.Context, task *models.GenerationTask, spec providers.RequestSpec) *providers.SubmitResult {
	for _, adapter := range s.adapters {
		name := adapter.Name()
		attemptCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
		start := s.now()
		result, err := adapter.Submit(attemptCtx, spec)
		cancel()
		s.metrics.ObserveProviderCall(name.String(), "submit", s.now().Sub(start))
		if err != nil {
			s.metrics.IncSubmit(name.String(), "error")
			logCtx := s.logg.WithProvider(ctx, name.String())
			s.logg.Warn(logCtx, "provider rejected submit; trying next")
			continue
		}
		s.metrics.IncSubmit(name.String(), "accepted")

		task.Provider = name
		var externalID *string
		if !result.Terminal() {
			externalID = &result.ExternalTaskID
		}
		if err := s.tasks.RecordSubmission(ctx, task.ID, name, externalID); err != nil {
			s.logg.Error(ctx, "failed to record accepted provider", err)
		}
		return result
	}
	return nil
}

func (s *service) GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error) {
	if userID == uuid.Nil || taskID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user and task ids are required")
	}
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "task not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup task")
	}
	if task.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "task not found")
	}

	if task.Status == enums.TaskStatusPending && task.ExternalTaskID != nil {
		return s.pollTask(ctx, task)
	}
	return task, nil
}

// pollTask asks the owning provider for progress and drives the terminal
// transition when the answer is final. Safe to call any number of times
// concurrently: the status guard in the task repository makes the terminal
// handlers first-writer-wins.
func (s *service) pollTask(ctx context.Context, task *models.GenerationTask) (*models.GenerationTask, error) {
	adapter, ok := s.byName[task.Provider]
	if !ok {
		return task, nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	start := s.now()
	result, err := adapter.Poll(pollCtx, *task.ExternalTaskID)
	cancel()
	s.metrics.ObserveProviderCall(task.Provider.String(), "poll", s.now().Sub(start))
	if err != nil {
		// A failed poll is not a failed task; the next poll or the
		// stale sweep will settle it.
		logCtx := s.logg.WithProvider(s.logg.WithTaskID(ctx, task.ID.String()), task.Provider.String())
		s.logg.Warn(logCtx, "provider poll failed; task stays pending")
		return task, nil
	}

	switch result.Status {
	case enums.TaskStatusSuccess:
		if err := s.completeTask(ctx, task, result.ResultRefs); err != nil {
			return nil, err
		}
	case enums.TaskStatusFailed:
		if _, err := s.FailPendingTask(ctx, task, result.Reason); err != nil {
			return nil, err
		}
		task.Status = enums.TaskStatusFailed
		if result.Reason != "" {
			task.FailureReason = &result.Reason
		}
	}
	return task, nil
}

// completeTask performs the guarded PENDING to SUCCESS transition first, then
// relocates artifacts for the winning caller only. Losers of the guard adopt
// whatever the winner persisted; relocation outcome never affects status.
func (s *service) completeTask(ctx context.Context, task *models.GenerationTask, refs []string) error {
	var transitioned bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.tasks.WithTx(tx).MarkSucceeded(ctx, task.ID, refs)
		if err != nil {
			return err
		}
		transitioned = updated
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete task")
	}
	if !transitioned {
		if fresh, findErr := s.tasks.FindByID(ctx, task.ID); findErr == nil {
			*task = *fresh
		} else {
			task.Status = enums.TaskStatusSuccess
		}
		return nil
	}
	s.metrics.IncTaskTerminal(enums.TaskStatusSuccess.String())

	finalRefs := refs
	if s.relocator != nil {
		finalRefs = s.relocator.Relocate(ctx, task.UserID, refs)
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.tasks.WithTx(tx)
		if err := repo.UpdateResultRefs(ctx, task.ID, finalRefs); err != nil {
			return err
		}
		return s.emitSucceeded(ctx, tx, task, finalRefs)
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist task artifacts")
	}
	task.Status = enums.TaskStatusSuccess
	task.ResultRefs = dbtypes.StringArray(finalRefs)
	return nil
}

// FailPendingTask performs the guarded PENDING to FAILED transition and, only
// when this call won the transition, refunds the task's cost. A duplicated
// poll or sweep observing an already-terminal task does nothing.
func (s *service) FailPendingTask(ctx context.Context, task *models.GenerationTask, reason string) (bool, error) {
	var transitioned bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.tasks.WithTx(tx)
		updated, err := repo.MarkFailed(ctx, task.ID, reason)
		if err != nil {
			return err
		}
		transitioned = updated
		if !updated {
			return nil
		}
		if _, err := s.ledger.RefundTx(ctx, tx, credits.RefundInput{
			UserID: task.UserID,
			Amount: task.CostCredits,
			TaskID: &task.ID,
		}); err != nil {
			return err
		}
		return s.emitFailed(ctx, tx, task, reason)
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return false, err
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail task")
	}
	if transitioned {
		s.metrics.IncTaskTerminal(enums.TaskStatusFailed.String())
	}
	return transitioned, nil
}

func (s *service) ListTasks(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	query := tasks.ListQuery{
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

	rows, err := s.tasks.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tasks")
	}

	nextCursor := ""
	if len(rows) > limit {
		nextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: rows[limit].CreatedAt,
			ID:        rows[limit].ID,
		})
		rows = rows[:limit]
	}
	return &ListResult{Items: rows, Cursor: nextCursor}, nil
}

func (s *service) emitSucceeded(ctx context.Context, tx *gorm.DB, task *models.GenerationTask, refs []string) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventGenerationSucceeded,
		AggregateType: enums.AggregateGenerationTask,
		AggregateID:   task.ID,
		Data: payloads.GenerationSucceededEvent{
			TaskID:      task.ID,
			UserID:      task.UserID,
			Provider:    task.Provider,
			CostCredits: task.CostCredits,
			ResultRefs:  refs,
			CompletedAt: s.now().UTC(),
		},
		Version: 1,
	})
}

func (s *service) emitFailed(ctx context.Context, tx *gorm.DB, task *models.GenerationTask, reason string) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventGenerationFailed,
		AggregateType: enums.AggregateGenerationTask,
		AggregateID:   task.ID,
		Data: payloads.GenerationFailedEvent{
			TaskID:          task.ID,
			UserID:          task.UserID,
			Provider:        task.Provider,
			RefundedCredits: task.CostCredits,
			Reason:          reason,
			FailedAt:        s.now().UTC(),
		},
		Version: 1,
	})
}
