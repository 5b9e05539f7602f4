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

const falModel = "fal-ai/flux/schnell"

// FalAdapter drives fal.ai's queue API: submit enqueues a request and the
// result is fetched by polling the request ID.
type FalAdapter struct {
	apiKey  string
	baseURL string
	client  httpDoer
}

// NewFalAdapter builds the fal adapter.
func NewFalAdapter(apiKey, baseURL string, client httpDoer) (*FalAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("fal api key required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("fal base url required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &FalAdapter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

func (a *FalAdapter) Name() enums.Provider { return enums.ProviderFal }

type falSubmitRequest struct {
	Prompt    string `json:"prompt"`
	ImageSize struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"image_size"`
	NumImages int `json:"num_images"`
}

type falSubmitResponse struct {
	RequestID string `json:"request_id"`
}

type falStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func (a *FalAdapter) Submit(ctx context.Context, spec RequestSpec) (*SubmitResult, error) {
	payload := falSubmitRequest{Prompt: spec.Prompt, NumImages: spec.NumImages}
	payload.ImageSize.Width = spec.Width
	payload.ImageSize.Height = spec.Height
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode request: %w", err))
	}

	url := fmt.Sprintf("%s/%s", a.baseURL, falModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, a.statusError("fal submit", resp)
	}

	var decoded falSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode fal response: %w", err)
	}
	if decoded.RequestID == "" {
		return nil, Permanent(fmt.Errorf("fal accepted the request but returned no request id"))
	}
	return &SubmitResult{ExternalTaskID: decoded.RequestID}, nil
}

func (a *FalAdapter) Poll(ctx context.Context, externalTaskID string) (*PollResult, error) {
	if externalTaskID == "" {
		return nil, Permanent(fmt.Errorf("external task id required"))
	}

	url := fmt.Sprintf("%s/%s/requests/%s", a.baseURL, falModel, externalTaskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &PollResult{Status: enums.TaskStatusFailed, Reason: "fal no longer knows this request"}, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, a.statusError("fal poll", resp)
	}

	var decoded falStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode fal status: %w", err)
	}

	switch strings.ToUpper(decoded.Status) {
	case "IN_QUEUE", "IN_PROGRESS":
		return &PollResult{Status: enums.TaskStatusPending}, nil
	case "ERROR", "FAILED":
		reason := decoded.Error
		if reason == "" {
			reason = "fal reported failure"
		}
		return &PollResult{Status: enums.TaskStatusFailed, Reason: reason}, nil
	}

	// Completed responses carry the images at the top level.
	if len(decoded.Images) == 0 {
		if strings.ToUpper(decoded.Status) == "COMPLETED" {
			return &PollResult{Status: enums.TaskStatusFailed, Reason: "fal completed without images"}, nil
		}
		return &PollResult{Status: enums.TaskStatusPending}, nil
	}
	refs := make([]string, 0, len(decoded.Images))
	for _, image := range decoded.Images {
		refs = append(refs, image.URL)
	}
	return &PollResult{Status: enums.TaskStatusSuccess, ResultRefs: refs}, nil
}

func (a *FalAdapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Key "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (a *FalAdapter) statusError(op string, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := fmt.Errorf("%s returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(payload)))
	if permanentStatus(resp.StatusCode) {
		return Permanent(err)
	}
	return err
}
