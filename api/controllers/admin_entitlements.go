package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/api/responses"
	"github.com/pixelmint-ai/pixelmint-backend/api/validators"
	"github.com/pixelmint-ai/pixelmint-backend/internal/entitlements"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

type createEntitlementPayload struct {
	UserID         string     `json:"user_id" validate:"required"`
	MonthlyCredits int64      `json:"monthly_credits" validate:"required,min=1"`
	AnchorAt       *time.Time `json:"anchor_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
}

type entitlementResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	MonthlyCredits int64      `json:"monthly_credits"`
	AnchorAt       time.Time  `json:"anchor_at"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toEntitlementResponse(entitlement *models.Entitlement) entitlementResponse {
	return entitlementResponse{
		ID:             entitlement.ID.String(),
		UserID:         entitlement.UserID.String(),
		MonthlyCredits: entitlement.MonthlyCredits,
		AnchorAt:       entitlement.AnchorAt,
		EndsAt:         entitlement.EndsAt,
		Status:         string(entitlement.Status),
		CreatedAt:      entitlement.CreatedAt,
	}
}

// AdminCreateEntitlement starts a recurring monthly credit schedule for a user.
func AdminCreateEntitlement(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlements service unavailable"))
			return
		}

		var payload createEntitlementPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		userID, err := uuid.Parse(strings.TrimSpace(payload.UserID))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		entitlement, err := svc.Create(ctx, entitlements.CreateInput{
			UserID:         userID,
			MonthlyCredits: payload.MonthlyCredits,
			AnchorAt:       payload.AnchorAt,
			EndsAt:         payload.EndsAt,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toEntitlementResponse(entitlement))
	}
}

// AdminCancelEntitlement stops future monthly grants. Already-granted months
// are untouched.
func AdminCancelEntitlement(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlements service unavailable"))
			return
		}

		id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "entitlementId")))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entitlement id"))
			return
		}

		if err := svc.Cancel(ctx, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"canceled": true})
	}
}
