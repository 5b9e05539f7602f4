package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

// ReplicateAdapter drives Replicate's predictions API asynchronously.
type ReplicateAdapter struct {
	apiKey  string
	baseURL string
	model   string
	client  httpDoer
}

// NewReplicateAdapter builds the Replicate adapter.
func NewReplicateAdapter(apiKey, baseURL, model string, client httpDoer) (*ReplicateAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("replicate api key required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("replicate base url required")
	}
	if model == "" {
		return nil, fmt.Errorf("replicate model required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ReplicateAdapter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}, nil
}

func (a *ReplicateAdapter) Name() enums.Provider { return enums.ProviderReplicate }

type replicateSubmitRequest struct {
	Input replicateInput `json:"input"`
}

type replicateInput struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	NumOutputs  int    `json:"num_outputs"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

func (a *ReplicateAdapter) Submit(ctx context.Context, spec RequestSpec) (*SubmitResult, error) {
	body, err := json.Marshal(replicateSubmitRequest{
		Input: replicateInput{
			Prompt:      spec.Prompt,
			AspectRatio: aspectRatio(spec.Width, spec.Height),
			NumOutputs:  spec.NumImages,
		},
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/models/%s/predictions", a.baseURL, a.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, a.statusError("replicate submit", resp)
	}

	var prediction replicatePrediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, fmt.Errorf("decode replicate response: %w", err)
	}
	if prediction.ID == "" {
		return nil, Permanent(fmt.Errorf("replicate accepted the request but returned no prediction id"))
	}
	return &SubmitResult{ExternalTaskID: prediction.ID}, nil
}

func (a *ReplicateAdapter) Poll(ctx context.Context, externalTaskID string) (*PollResult, error) {
	if externalTaskID == "" {
		return nil, Permanent(fmt.Errorf("external task id required"))
	}

	url := fmt.Sprintf("%s/v1/predictions/%s", a.baseURL, externalTaskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &PollResult{Status: enums.TaskStatusFailed, Reason: "replicate no longer knows this prediction"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, a.statusError("replicate poll", resp)
	}

	var prediction replicatePrediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, fmt.Errorf("decode replicate prediction: %w", err)
	}

	switch prediction.Status {
	case "starting", "processing":
		return &PollResult{Status: enums.TaskStatusPending}, nil
	case "succeeded":
		refs := decodeReplicateOutput(prediction.Output)
		if len(refs) == 0 {
			return &PollResult{Status: enums.TaskStatusFailed, Reason: "replicate succeeded without output"}, nil
		}
		return &PollResult{Status: enums.TaskStatusSuccess, ResultRefs: refs}, nil
	case "failed", "canceled":
		reason := prediction.Error
		if reason == "" {
			reason = "replicate reported " + prediction.Status
		}
		return &PollResult{Status: enums.TaskStatusFailed, Reason: reason}, nil
	default:
		return &PollResult{Status: enums.TaskStatusPending}, nil
	}
}

// decodeReplicateOutput tolerates both output shapes the API uses: a single
// URL string or a list of URL strings.
func decodeReplicateOutput(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func aspectRatio(width, height int) string {
	if width <= 0 || height <= 0 || width == height {
		return "1:1"
	}
	if width > height {
		return "16:9"
	}
	return "9:16"
}

func (a *ReplicateAdapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (a *ReplicateAdapter) statusError(op string, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := fmt.Errorf("%s returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(payload)))
	if permanentStatus(resp.StatusCode) {
		return Permanent(err)
	}
	return err
}
