package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/api/middleware"
	"github.com/pixelmint-ai/pixelmint-backend/api/responses"
	"github.com/pixelmint-ai/pixelmint-backend/api/validators"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

type submitGenerationPayload struct {
	Prompt    string `json:"prompt" validate:"required,max=2000"`
	Width     int    `json:"width" validate:"required"`
	Height    int    `json:"height" validate:"required"`
	NumImages int    `json:"num_images,omitempty"`
}

type generationResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	Provider       string    `json:"provider"`
	ExternalTaskID *string   `json:"external_task_id,omitempty"`
	Prompt         string    `json:"prompt"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	NumImages      int       `json:"num_images"`
	CostCredits    int64     `json:"cost_credits"`
	ResultRefs     []string  `json:"result_refs"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type generationListResponse struct {
	Items  []generationResponse `json:"items"`
	Cursor string               `json:"cursor,omitempty"`
}

func toGenerationResponse(task *models.GenerationTask) generationResponse {
	refs := []string(task.ResultRefs)
	if refs == nil {
		refs = []string{}
	}
	return generationResponse{
		ID:             task.ID.String(),
		Status:         string(task.Status),
		Provider:       string(task.Provider),
		ExternalTaskID: task.ExternalTaskID,
		Prompt:         task.Prompt,
		Width:          task.Width,
		Height:         task.Height,
		NumImages:      task.NumImages,
		CostCredits:    task.CostCredits,
		ResultRefs:     refs,
		FailureReason:  task.FailureReason,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}
}

// SubmitGeneration reserves credits and dispatches the request to a provider.
func SubmitGeneration(svc generation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload submitGenerationPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if payload.NumImages == 0 {
			payload.NumImages = 1
		}

		task, err := svc.Submit(ctx, generation.SubmitInput{
			UserID:    userID,
			Prompt:    validators.SanitizeString(payload.Prompt, 2000),
			Width:     payload.Width,
			Height:    payload.Height,
			NumImages: payload.NumImages,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, toGenerationResponse(task))
	}
}

// GetGeneration returns one of the caller's tasks, polling the provider when
// the task is still pending.
func GetGeneration(svc generation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		taskID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "taskId")))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid task id"))
			return
		}

		task, err := svc.GetTask(ctx, userID, taskID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, toGenerationResponse(task))
	}
}

// ListGenerations pages through the caller's tasks newest first.
func ListGenerations(svc generation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.ListTasks(ctx, generation.ListParams{
			UserID: userID,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]generationResponse, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, toGenerationResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, generationListResponse{Items: items, Cursor: result.Cursor})
	}
}

func authenticatedUserID(ctx context.Context) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity")
	}
	return id, nil
}
