package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	dbtypes "github.com/pixelmint-ai/pixelmint-backend/pkg/db/types"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/pagination"
)

// Repository manages persistence for generation tasks. Terminal transitions
// are guarded: a task leaves pending exactly once, and the first writer wins.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, task *models.GenerationTask) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error)
	List(ctx context.Context, query ListQuery) ([]models.GenerationTask, error)
	SetExternalTaskID(ctx context.Context, id uuid.UUID, externalID string) error
	RecordSubmission(ctx context.Context, id uuid.UUID, provider enums.Provider, externalID *string) error
	MarkSucceeded(ctx context.Context, id uuid.UUID, resultRefs []string) (bool, error)
	UpdateResultRefs(ctx context.Context, id uuid.UUID, resultRefs []string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationTask, error)
}

// ListQuery pages through a user's tasks newest first.
type ListQuery struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a task repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, task *models.GenerationTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	var task models.GenerationTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.GenerationTask, error) {
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
	var rows []models.GenerationTask
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) SetExternalTaskID(ctx context.Context, id uuid.UUID, externalID string) error {
	return r.db.WithContext(ctx).
		Model(&models.GenerationTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"external_task_id": externalID,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// RecordSubmission stores which provider accepted the request and, for
// asynchronous providers, the external handle to poll.
func (r *repository) RecordSubmission(ctx context.Context, id uuid.UUID, provider enums.Provider, externalID *string) error {
	updates := map[string]any{
		"provider":   provider,
		"updated_at": time.Now().UTC(),
	}
	if externalID != nil {
		updates["external_task_id"] = *externalID
	}
	return r.db.WithContext(ctx).
		Model(&models.GenerationTask{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkSucceeded moves a pending task to success. Returns false when the task
// already left pending, so duplicate poll results and sweeps are no-ops.
func (r *repository) MarkSucceeded(ctx context.Context, id uuid.UUID, resultRefs []string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.GenerationTask{}).
		Where("id = ? AND status = ?", id, enums.TaskStatusPending).
		Updates(map[string]any{
			"status":      enums.TaskStatusSuccess,
			"result_refs": dbtypes.StringArray(resultRefs),
			"updated_at":  time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

// UpdateResultRefs rewrites the stored artifact references, used after the
// succeeded task's artifacts were copied into owned storage.
func (r *repository) UpdateResultRefs(ctx context.Context, id uuid.UUID, resultRefs []string) error {
	return r.db.WithContext(ctx).
		Model(&models.GenerationTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"result_refs": dbtypes.StringArray(resultRefs),
			"updated_at":  time.Now().UTC(),
		}).Error
}

// MarkFailed moves a pending task to failed with the given reason. Same
// first-writer-wins guard as MarkSucceeded.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.GenerationTask{}).
		Where("id = ? AND status = ?", id, enums.TaskStatusPending).
		Updates(map[string]any{
			"status":         enums.TaskStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationTask, error) {
	var rows []models.GenerationTask
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.TaskStatusPending).
		Where("created_at < ?", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
