package controllers

import (
	"context"
	"net/http"

	"github.com/pixelmint-ai/pixelmint-backend/api/responses"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/config"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecks names the dependencies the readiness probe exercises.
// Nil entries are skipped so local setups can run without every backend.
type ReadinessChecks struct {
	DB    pinger
	Redis pinger
	GCS   pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PixelMint-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, checks ReadinessChecks, logg *logger.Logger) http.HandlerFunc {
	probes := []struct {
		name   string
		target pinger
	}{
		{"postgres", checks.DB},
		{"redis", checks.Redis},
		{"gcs", checks.GCS},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set("X-PixelMint-Env", cfg.App.Env)

		for _, probe := range probes {
			if probe.target == nil {
				continue
			}
			if err := probe.target.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, probe.name+" not ready"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
