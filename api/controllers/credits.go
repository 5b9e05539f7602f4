package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/pixelmint-ai/pixelmint-backend/api/responses"
	"github.com/pixelmint-ai/pixelmint-backend/api/validators"
	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type transactionResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Scene     string    `json:"scene"`
	Amount    int64     `json:"amount"`
	GrantID   *string   `json:"grant_id,omitempty"`
	TaskID    *string   `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type transactionListResponse struct {
	Items  []transactionResponse `json:"items"`
	Cursor string                `json:"cursor,omitempty"`
}

func toTransactionResponse(tx *models.CreditTransaction) transactionResponse {
	resp := transactionResponse{
		ID:        tx.ID.String(),
		Type:      string(tx.Type),
		Scene:     string(tx.Scene),
		Amount:    tx.Amount,
		CreatedAt: tx.CreatedAt,
	}
	if tx.GrantID != nil {
		id := tx.GrantID.String()
		resp.GrantID = &id
	}
	if tx.TaskID != nil {
		id := tx.TaskID.String()
		resp.TaskID = &id
	}
	return resp
}

// CreditBalance returns the caller's available credit balance.
func CreditBalance(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		userID, err := authenticatedUserID(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		balance, err := svc.Balance(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, balanceResponse{Balance: balance})
	}
}

// CreditTransactions pages through the caller's audit log newest first.
func CreditTransactions(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
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

		result, err := svc.ListTransactions(ctx, credits.ListTransactionsParams{
			UserID: userID,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]transactionResponse, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, toTransactionResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, transactionListResponse{Items: items, Cursor: result.Cursor})
	}
}
