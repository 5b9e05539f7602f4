package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pixelmint-ai/pixelmint-backend/api/controllers"
	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/internal/entitlements"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation"
	pkgAuth "github.com/pixelmint-ai/pixelmint-backend/pkg/auth"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/auth/session"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/config"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"

	"gorm.io/gorm"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubSessionChecker struct{}

func (stubSessionChecker) HasSession(context.Context, string) (bool, error) {
	return true, nil
}

type stubGenerationService struct{}

func (stubGenerationService) Submit(context.Context, generation.SubmitInput) (*models.GenerationTask, error) {
	return &models.GenerationTask{ID: uuid.New(), Status: enums.TaskStatusPending}, nil
}

func (stubGenerationService) GetTask(context.Context, uuid.UUID, uuid.UUID) (*models.GenerationTask, error) {
	return &models.GenerationTask{ID: uuid.New(), Status: enums.TaskStatusPending}, nil
}

func (stubGenerationService) ListTasks(context.Context, generation.ListParams) (*generation.ListResult, error) {
	return &generation.ListResult{}, nil
}

func (stubGenerationService) FailPendingTask(context.Context, *models.GenerationTask, string) (bool, error) {
	return false, nil
}

type stubCreditsService struct{}

func (stubCreditsService) Grant(context.Context, credits.GrantInput) (*models.CreditGrant, error) {
	return &models.CreditGrant{ID: uuid.New(), Status: enums.GrantStatusActive}, nil
}

func (stubCreditsService) GrantTx(context.Context, *gorm.DB, credits.GrantInput) (*models.CreditGrant, error) {
	return nil, nil
}

func (stubCreditsService) Balance(context.Context, uuid.UUID) (int64, error) {
	return 7, nil
}

func (stubCreditsService) Consume(context.Context, credits.ConsumeInput) (*models.CreditTransaction, error) {
	return nil, nil
}

func (stubCreditsService) ConsumeTx(context.Context, *gorm.DB, credits.ConsumeInput) (*models.CreditTransaction, error) {
	return nil, nil
}

func (stubCreditsService) Refund(context.Context, credits.RefundInput) (*models.CreditGrant, error) {
	return nil, nil
}

func (stubCreditsService) RefundTx(context.Context, *gorm.DB, credits.RefundInput) (*models.CreditGrant, error) {
	return nil, nil
}

func (stubCreditsService) ListTransactions(context.Context, credits.ListTransactionsParams) (*credits.ListTransactionsResult, error) {
	return &credits.ListTransactionsResult{}, nil
}

type stubEntitlementsService struct{}

func (stubEntitlementsService) Create(context.Context, entitlements.CreateInput) (*models.Entitlement, error) {
	return &models.Entitlement{ID: uuid.New(), Status: enums.EntitlementStatusActive}, nil
}

func (stubEntitlementsService) Cancel(context.Context, uuid.UUID) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(RouterParams{
		Config:       cfg,
		Logger:       logg,
		Sessions:     stubSessionChecker{},
		Readiness:    controllers.ReadinessChecks{DB: stubPinger{}, Redis: stubPinger{}},
		Generation:   stubGenerationService{},
		Credits:      stubCreditsService{},
		Entitlements: stubEntitlementsService{},
	})
}

func buildToken(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		JTI:    session.NewAccessID(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthEndpointsArePublic(t *testing.T) {
	router := newTestRouter(testConfig())
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestUserGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestUserGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestGenerationRoutesRequireAuth(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/generations", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}

	authed := httptest.NewRequest(http.MethodGet, "/api/v1/generations", nil)
	authed.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleUser))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, authed)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	body := `{"user_id":"` + uuid.NewString() + `","monthly_credits":100}`

	nonAdmin := newJSONRequest(http.MethodPost, "/api/admin/v1/entitlements", body)
	nonAdmin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, nonAdmin)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin got %d", resp.Code)
	}

	admin := newJSONRequest(http.MethodPost, "/api/admin/v1/entitlements", body)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleAdmin))
	admin.Header.Set("Idempotency-Key", uuid.NewString())
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, admin)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin got %d: %s", resp.Code, resp.Body.String())
	}
}

func newJSONRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
