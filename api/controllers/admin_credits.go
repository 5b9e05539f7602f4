package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/api/middleware"
	"github.com/pixelmint-ai/pixelmint-backend/api/responses"
	"github.com/pixelmint-ai/pixelmint-backend/api/validators"
	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/outbox"
)

type adminGrantPayload struct {
	UserID         string     `json:"user_id" validate:"required"`
	Scene          string     `json:"scene,omitempty"`
	Amount         int64      `json:"amount" validate:"required,min=1"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type grantResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Scene            string     `json:"scene"`
	Amount           int64      `json:"amount"`
	RemainingCredits int64      `json:"remaining_credits"`
	Status           string     `json:"status"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toGrantResponse(grant *models.CreditGrant) grantResponse {
	return grantResponse{
		ID:               grant.ID.String(),
		UserID:           grant.UserID.String(),
		Scene:            string(grant.Scene),
		Amount:           grant.Amount,
		RemainingCredits: grant.RemainingCredits,
		Status:           string(grant.Status),
		ExpiresAt:        grant.ExpiresAt,
		CreatedAt:        grant.CreatedAt,
	}
}

// AdminGrantCredits issues a manual credit grant to a user.
func AdminGrantCredits(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		var payload adminGrantPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		userID, err := uuid.Parse(strings.TrimSpace(payload.UserID))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		scene := enums.SceneAdminGrant
		if raw := strings.TrimSpace(payload.Scene); raw != "" {
			parsed, parseErr := enums.ParseCreditScene(raw)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid scene"))
				return
			}
			scene = parsed
		}

		input := credits.GrantInput{
			UserID:    userID,
			Scene:     scene,
			Amount:    payload.Amount,
			ExpiresAt: payload.ExpiresAt,
		}
		if key := strings.TrimSpace(payload.IdempotencyKey); key != "" {
			input.IdempotencyKey = &key
		}
		if actor := adminActor(ctx); actor != nil {
			input.Actor = actor
		}

		grant, err := svc.Grant(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toGrantResponse(grant))
	}
}

func adminActor(ctx context.Context) *outbox.ActorRef {
	raw := middleware.UserIDFromContext(ctx)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &outbox.ActorRef{UserID: id, Role: middleware.RoleFromContext(ctx)}
}
