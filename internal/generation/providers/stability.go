package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sethvargo/go-retry"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

const stabilityEngine = "stable-diffusion-xl-1024-v1-0"

// StabilityAdapter is the synchronous backend: a successful submit already
// carries the rendered images, and Poll is a pass-through.
type StabilityAdapter struct {
	apiKey  string
	baseURL string
	client  httpDoer
	policy  RetryPolicy
}

// NewStabilityAdapter builds the Stability adapter.
func NewStabilityAdapter(apiKey, baseURL string, client httpDoer, policy RetryPolicy) (*StabilityAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stability api key required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("stability base url required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &StabilityAdapter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		policy:  policy.withDefaults(),
	}, nil
}

func (a *StabilityAdapter) Name() enums.Provider { return enums.ProviderStability }

type stabilityRequest struct {
	TextPrompts []stabilityPrompt `json:"text_prompts"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Samples     int               `json:"samples"`
}

type stabilityPrompt struct {
	Text string `json:"text"`
}

type stabilityResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

func (a *StabilityAdapter) Submit(ctx context.Context, spec RequestSpec) (*SubmitResult, error) {
	body, err := json.Marshal(stabilityRequest{
		TextPrompts: []stabilityPrompt{{Text: spec.Prompt}},
		Width:       spec.Width,
		Height:      spec.Height,
		Samples:     spec.NumImages,
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/generation/%s/text-to-image", a.baseURL, stabilityEngine)
	var result *SubmitResult
	backoff := retry.WithMaxRetries(uint64(a.policy.MaxAttempts-1), retry.NewExponential(a.policy.InitialBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		refs, callErr := a.generate(ctx, url, body)
		if callErr != nil {
			if IsPermanent(callErr) {
				return callErr
			}
			return retry.RetryableError(callErr)
		}
		result = &SubmitResult{ResultRefs: refs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *StabilityAdapter) generate(ctx context.Context, url string, body []byte) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stability request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("stability returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if permanentStatus(resp.StatusCode) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	var decoded stabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode stability response: %w", err)
	}
	if len(decoded.Artifacts) == 0 {
		return nil, Permanent(fmt.Errorf("stability returned no artifacts"))
	}

	refs := make([]string, 0, len(decoded.Artifacts))
	for _, artifact := range decoded.Artifacts {
		if artifact.FinishReason == "CONTENT_FILTERED" {
			return nil, Permanent(fmt.Errorf("stability rejected prompt: content filtered"))
		}
		refs = append(refs, "data:image/png;base64,"+artifact.Base64)
	}
	return refs, nil
}

// Poll is a pass-through: the submit result was already terminal.
func (a *StabilityAdapter) Poll(ctx context.Context, externalTaskID string) (*PollResult, error) {
	return nil, Permanent(fmt.Errorf("stability tasks complete at submit; nothing to poll"))
}
