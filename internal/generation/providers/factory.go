package providers

import (
	"context"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/config"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

// FromConfig assembles the adapter chain in the configured fallback order.
// Providers without an API key are skipped with a warning so one missing
// credential never takes the whole service down.
func FromConfig(order []string, cfg config.ProvidersConfig, logg *logger.Logger) ([]Adapter, error) {
	policy := RetryPolicy{MaxAttempts: cfg.MaxAttempts}
	adapters := make([]Adapter, 0, len(order))

	for _, name := range order {
		switch name {
		case "stability":
			if cfg.StabilityAPIKey == "" {
				warn(logg, name)
				continue
			}
			adapter, err := NewStabilityAdapter(cfg.StabilityAPIKey, cfg.StabilityBaseURL, nil, policy)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, adapter)
		case "fal":
			if cfg.FalAPIKey == "" {
				warn(logg, name)
				continue
			}
			adapter, err := NewFalAdapter(cfg.FalAPIKey, cfg.FalBaseURL, nil)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, adapter)
		case "replicate":
			if cfg.ReplicateAPIKey == "" {
				warn(logg, name)
				continue
			}
			adapter, err := NewReplicateAdapter(cfg.ReplicateAPIKey, cfg.ReplicateBaseURL, cfg.ReplicateModel, nil)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, adapter)
		default:
			warnUnknown(logg, name)
		}
	}

	return adapters, nil
}

func warn(logg *logger.Logger, provider string) {
	if logg == nil {
		return
	}
	ctx := logg.WithField(context.Background(), "provider", provider)
	logg.Warn(ctx, "provider api key missing, adapter skipped")
}

func warnUnknown(logg *logger.Logger, provider string) {
	if logg == nil {
		return
	}
	ctx := logg.WithField(context.Background(), "provider", provider)
	logg.Warn(ctx, "unknown provider in order, skipped")
}
