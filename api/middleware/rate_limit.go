package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pixelmint-ai/pixelmint-backend/api/responses"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

// RateLimiterStore is the slice of the redis client the limiter needs.
type RateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// SubmitRateLimitPolicy throttles a user's generation submissions.
type SubmitRateLimitPolicy struct {
	Window    time.Duration
	UserLimit int
}

func (p SubmitRateLimitPolicy) enabled() bool {
	return p.Window > 0 && p.UserLimit > 0
}

// SubmitRateLimit enforces the per-user fixed window on generation submits.
// Runs after Auth, so the user id is always in the context.
func SubmitRateLimit(policy SubmitRateLimitPolicy, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := UserIDFromContext(ctx)
			if userID == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			scope := fmt.Sprintf("submit:%s", userID)
			allowed, count, err := store.FixedWindowAllow(ctx, scope, int64(policy.UserLimit), policy.Window)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if !allowed {
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{
						"attempts":       count,
						"limit":          policy.UserLimit,
						"window_seconds": int(policy.Window.Seconds()),
					})
					logg.Warn(logCtx, "generation.rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
