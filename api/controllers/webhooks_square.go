package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/pixelmint-ai/pixelmint-backend/api/responses"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

const squareSignatureHeader = "x-square-hmacsha256-signature"

type squareEventHandler interface {
	HandleEvent(ctx context.Context, signature string, body []byte) error
}

// SquareWebhook receives Square payment notifications. The body must reach
// the webhook service untouched so the HMAC check sees the exact bytes Square
// signed.
func SquareWebhook(svc squareEventHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read webhook body"))
			return
		}

		if err := svc.HandleEvent(ctx, r.Header.Get(squareSignatureHeader), body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
