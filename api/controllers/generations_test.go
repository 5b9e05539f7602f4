package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/api/middleware"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

type testGenerationService struct {
	submitFn func(ctx context.Context, input generation.SubmitInput) (*models.GenerationTask, error)
	getFn    func(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error)
	listFn   func(ctx context.Context, params generation.ListParams) (*generation.ListResult, error)
}

func (s *testGenerationService) Submit(ctx context.Context, input generation.SubmitInput) (*models.GenerationTask, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, input)
	}
	return nil, nil
}

func (s *testGenerationService) GetTask(ctx context.Context, userID, taskID uuid.UUID) (*models.GenerationTask, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, taskID)
	}
	return nil, nil
}

func (s *testGenerationService) ListTasks(ctx context.Context, params generation.ListParams) (*generation.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &generation.ListResult{}, nil
}

func (s *testGenerationService) FailPendingTask(context.Context, *models.GenerationTask, string) (bool, error) {
	return false, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func authedRequest(method, target string, body io.Reader, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func pendingTask(userID uuid.UUID) *models.GenerationTask {
	return &models.GenerationTask{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    enums.ProviderStability,
		Scene:       enums.SceneImageGeneration,
		Prompt:      "a fox in watercolor",
		Width:       512,
		Height:      512,
		NumImages:   1,
		CostCredits: 1,
		Status:      enums.TaskStatusPending,
	}
}

func TestSubmitGenerationAccepted(t *testing.T) {
	userID := uuid.New()
	var got generation.SubmitInput
	svc := &testGenerationService{
		submitFn: func(ctx context.Context, input generation.SubmitInput) (*models.GenerationTask, error) {
			got = input
			return pendingTask(userID), nil
		},
	}

	body := strings.NewReader(`{"prompt":"a fox in watercolor","width":512,"height":512}`)
	req := authedRequest(http.MethodPost, "/api/v1/generations", body, userID)
	resp := httptest.NewRecorder()
	SubmitGeneration(svc, testLogger())(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.UserID != userID {
		t.Fatalf("expected user %s got %s", userID, got.UserID)
	}
	if got.NumImages != 1 {
		t.Fatalf("expected num_images defaulted to 1, got %d", got.NumImages)
	}

	var envelope struct {
		Data generationResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Status != string(enums.TaskStatusPending) {
		t.Fatalf("expected pending status got %s", envelope.Data.Status)
	}
	if envelope.Data.ResultRefs == nil {
		t.Fatal("expected result_refs to serialize as an array")
	}
}

func TestSubmitGenerationRequiresAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(`{"prompt":"x","width":512,"height":512}`))
	resp := httptest.NewRecorder()
	SubmitGeneration(&testGenerationService{}, testLogger())(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestSubmitGenerationRejectsMissingPrompt(t *testing.T) {
	req := authedRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(`{"width":512,"height":512}`), uuid.New())
	resp := httptest.NewRecorder()
	SubmitGeneration(&testGenerationService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetGenerationSuccess(t *testing.T) {
	userID := uuid.New()
	task := pendingTask(userID)
	svc := &testGenerationService{
		getFn: func(ctx context.Context, uid, tid uuid.UUID) (*models.GenerationTask, error) {
			if uid != userID {
				t.Fatalf("unexpected user %s", uid)
			}
			if tid != task.ID {
				t.Fatalf("unexpected task %s", tid)
			}
			return task, nil
		},
	}

	req := authedRequest(http.MethodGet, "/api/v1/generations/"+task.ID.String(), nil, userID)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("taskId", task.ID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	resp := httptest.NewRecorder()
	GetGeneration(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestGetGenerationInvalidID(t *testing.T) {
	req := authedRequest(http.MethodGet, "/api/v1/generations/bad", nil, uuid.New())
	req = addRouteParam(req, "taskId", "bad")
	resp := httptest.NewRecorder()
	GetGeneration(&testGenerationService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListGenerationsPassesPaging(t *testing.T) {
	userID := uuid.New()
	svc := &testGenerationService{
		listFn: func(ctx context.Context, params generation.ListParams) (*generation.ListResult, error) {
			if params.Limit != 5 {
				t.Fatalf("expected limit 5 got %d", params.Limit)
			}
			if params.Cursor != "abc" {
				t.Fatalf("expected cursor abc got %q", params.Cursor)
			}
			return &generation.ListResult{
				Items:  []models.GenerationTask{*pendingTask(userID)},
				Cursor: "next",
			}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/api/v1/generations?limit=5&cursor=abc", nil, userID)
	resp := httptest.NewRecorder()
	ListGenerations(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data generationListResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Items) != 1 {
		t.Fatalf("expected 1 item got %d", len(envelope.Data.Items))
	}
	if envelope.Data.Cursor != "next" {
		t.Fatalf("expected cursor next got %q", envelope.Data.Cursor)
	}
}
