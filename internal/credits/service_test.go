package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/metrics"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/outbox"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/pagination"
)

type fakeRepository struct {
	grants       []models.CreditGrant
	transactions []models.CreditTransaction
	updates      map[uuid.UUID]struct {
		remaining int64
		status    enums.GrantStatus
	}
	lockErr   error
	createErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		updates: map[uuid.UUID]struct {
			remaining int64
			status    enums.GrantStatus
		}{},
	}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) CreateGrant(ctx context.Context, grant *models.CreditGrant) error {
	if f.createErr != nil {
		return f.createErr
	}
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	f.grants = append(f.grants, *grant)
	return nil
}

func (f *fakeRepository) FindGrantByID(ctx context.Context, id uuid.UUID) (*models.CreditGrant, error) {
	for i := range f.grants {
		if f.grants[i].ID == id {
			return &f.grants[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindGrantByIdempotencyKey(ctx context.Context, key string) (*models.CreditGrant, error) {
	for i := range f.grants {
		if f.grants[i].IdempotencyKey != nil && *f.grants[i].IdempotencyKey == key {
			return &f.grants[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) LockUsableGrants(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.CreditGrant, error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	var usable []models.CreditGrant
	for _, grant := range f.grants {
		if grant.UserID == userID && grant.Usable(now) {
			usable = append(usable, grant)
		}
	}
	return usable, nil
}

func (f *fakeRepository) UpdateGrantBalance(ctx context.Context, id uuid.UUID, remaining int64, status enums.GrantStatus) error {
	f.updates[id] = struct {
		remaining int64
		status    enums.GrantStatus
	}{remaining, status}
	for i := range f.grants {
		if f.grants[i].ID == id {
			f.grants[i].RemainingCredits = remaining
			f.grants[i].Status = status
		}
	}
	return nil
}

func (f *fakeRepository) SumUsableCredits(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	var total int64
	for _, grant := range f.grants {
		if grant.UserID == userID && grant.Usable(now) {
			total += grant.RemainingCredits
		}
	}
	return total, nil
}

func (f *fakeRepository) CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	f.transactions = append(f.transactions, *txn)
	return nil
}

func (f *fakeRepository) ListTransactions(ctx context.Context, query TransactionQuery) ([]models.CreditTransaction, error) {
	var out []models.CreditTransaction
	for _, txn := range f.transactions {
		if txn.UserID == query.UserID {
			out = append(out, txn)
		}
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (f *fakeRepository) ExpireDueGrants(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (f *fakeEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newTestService(t *testing.T, repo *fakeRepository, emitter *fakeEmitter) Service {
	t.Helper()
	svc, err := NewService(repo, fakeTxRunner{}, emitter, nil)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc
}

func TestService_Grant(t *testing.T) {
	repo := newFakeRepository()
	emitter := &fakeEmitter{}
	svc := newTestService(t, repo, emitter)

	userID := uuid.New()
	expiry := time.Now().Add(24 * time.Hour)
	grant, err := svc.Grant(context.Background(), GrantInput{
		UserID:    userID,
		Scene:     enums.SceneRegistrationBonus,
		Amount:    100,
		ExpiresAt: &expiry,
	})
	if err != nil {
		t.Fatalf("Grant error: %v", err)
	}
	if grant.RemainingCredits != 100 || grant.Status != enums.GrantStatusActive {
		t.Fatalf("unexpected grant state: %+v", grant)
	}

	if len(repo.transactions) != 1 {
		t.Fatalf("expected one audit row, got %d", len(repo.transactions))
	}
	txn := repo.transactions[0]
	if txn.Type != enums.TransactionTypeGrant || txn.Amount != 100 || txn.GrantID == nil {
		t.Fatalf("unexpected audit row: %+v", txn)
	}

	if len(emitter.events) != 1 {
		t.Fatalf("expected one outbox event, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType != enums.EventCreditsGranted {
		t.Fatalf("unexpected event type %q", emitter.events[0].EventType)
	}
}

func TestService_GrantIdempotentReplay(t *testing.T) {
	repo := newFakeRepository()
	emitter := &fakeEmitter{}
	svc := newTestService(t, repo, emitter)

	userID := uuid.New()
	key := "square:payment:pay_123"
	input := GrantInput{
		UserID:         userID,
		Scene:          enums.ScenePurchase,
		Amount:         500,
		IdempotencyKey: &key,
	}

	first, err := svc.Grant(context.Background(), input)
	if err != nil {
		t.Fatalf("first Grant error: %v", err)
	}
	second, err := svc.Grant(context.Background(), input)
	if err != nil {
		t.Fatalf("replayed Grant error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay created a new grant: %s vs %s", second.ID, first.ID)
	}
	if len(repo.grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(repo.grants))
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("replay must not add audit rows, got %d", len(repo.transactions))
	}
	if len(emitter.events) != 1 {
		t.Fatalf("replay must not emit again, got %d", len(emitter.events))
	}
}

func TestService_GrantValidation(t *testing.T) {
	svc := newTestService(t, newFakeRepository(), nil)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name  string
		input GrantInput
	}{
		{"missing user", GrantInput{Scene: enums.SceneAdminGrant, Amount: 10}},
		{"invalid scene", GrantInput{UserID: uuid.New(), Scene: enums.CreditScene("bogus"), Amount: 10}},
		{"zero amount", GrantInput{UserID: uuid.New(), Scene: enums.SceneAdminGrant}},
		{"negative amount", GrantInput{UserID: uuid.New(), Scene: enums.SceneAdminGrant, Amount: -5}},
		{"expiry in the past", GrantInput{UserID: uuid.New(), Scene: enums.SceneAdminGrant, Amount: 10, ExpiresAt: &past}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Grant(context.Background(), tc.input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_ConsumeDrainsSoonestExpiringFirst(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	userID := uuid.New()
	soon := time.Now().Add(time.Hour)
	later := time.Now().Add(48 * time.Hour)

	expiring := models.CreditGrant{ID: uuid.New(), UserID: userID, Scene: enums.ScenePurchase, Amount: 30, RemainingCredits: 30, Status: enums.GrantStatusActive, ExpiresAt: &soon}
	middle := models.CreditGrant{ID: uuid.New(), UserID: userID, Scene: enums.ScenePurchase, Amount: 40, RemainingCredits: 40, Status: enums.GrantStatusActive, ExpiresAt: &later}
	forever := models.CreditGrant{ID: uuid.New(), UserID: userID, Scene: enums.ScenePurchase, Amount: 100, RemainingCredits: 100, Status: enums.GrantStatusActive}
	repo.grants = []models.CreditGrant{expiring, middle, forever}

	taskID := uuid.New()
	txn, err := svc.Consume(context.Background(), ConsumeInput{
		UserID: userID,
		Amount: 50,
		Scene:  enums.SceneImageGeneration,
		TaskID: &taskID,
	})
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}

	if txn.Type != enums.TransactionTypeConsume || txn.Amount != 50 {
		t.Fatalf("unexpected audit row: %+v", txn)
	}
	if txn.TaskID == nil || *txn.TaskID != taskID {
		t.Fatalf("audit row missing task reference: %+v", txn)
	}
	if txn.GrantID != nil {
		t.Fatalf("multi-grant drain must not pin a single grant: %+v", txn)
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("expected exactly one audit row, got %d", len(repo.transactions))
	}

	// 30 from the expiring grant, 20 from the next-soonest.
	if update := repo.updates[expiring.ID]; update.remaining != 0 || update.status != enums.GrantStatusExhausted {
		t.Fatalf("expiring grant not fully drained: %+v", update)
	}
	if update := repo.updates[middle.ID]; update.remaining != 20 || update.status != enums.GrantStatusActive {
		t.Fatalf("second grant drained incorrectly: %+v", update)
	}
	if _, touched := repo.updates[forever.ID]; touched {
		t.Fatal("non-expiring grant should be untouched")
	}
}

func TestService_ConsumeSingleGrantRecordsGrantID(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	userID := uuid.New()
	grant := models.CreditGrant{ID: uuid.New(), UserID: userID, Scene: enums.ScenePurchase, Amount: 100, RemainingCredits: 100, Status: enums.GrantStatusActive}
	repo.grants = []models.CreditGrant{grant}

	txn, err := svc.Consume(context.Background(), ConsumeInput{
		UserID: userID,
		Amount: 10,
		Scene:  enums.SceneImageGeneration,
	})
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if txn.GrantID == nil || *txn.GrantID != grant.ID {
		t.Fatalf("single-grant drain should record the grant: %+v", txn)
	}
	if update := repo.updates[grant.ID]; update.remaining != 90 || update.status != enums.GrantStatusActive {
		t.Fatalf("unexpected drain: %+v", update)
	}
}

func TestService_ConsumeInsufficientCredits(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	userID := uuid.New()
	repo.grants = []models.CreditGrant{
		{ID: uuid.New(), UserID: userID, Scene: enums.ScenePurchase, Amount: 30, RemainingCredits: 30, Status: enums.GrantStatusActive},
	}

	_, err := svc.Consume(context.Background(), ConsumeInput{
		UserID: userID,
		Amount: 31,
		Scene:  enums.SceneImageGeneration,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	if len(repo.updates) != 0 {
		t.Fatal("failed consume must not drain any grant")
	}
	if len(repo.transactions) != 0 {
		t.Fatal("failed consume must not write audit rows")
	}
}

func TestService_ConsumeRepoError(t *testing.T) {
	repo := newFakeRepository()
	repo.lockErr = errors.New("boom")
	svc := newTestService(t, repo, nil)

	_, err := svc.Consume(context.Background(), ConsumeInput{
		UserID: uuid.New(),
		Amount: 5,
		Scene:  enums.SceneImageGeneration,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestService_RefundIsAdditiveAndNonExpiring(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	userID := uuid.New()
	taskID := uuid.New()
	grant, err := svc.Refund(context.Background(), RefundInput{
		UserID: userID,
		Amount: 40,
		TaskID: &taskID,
	})
	if err != nil {
		t.Fatalf("Refund error: %v", err)
	}
	if grant.Scene != enums.SceneRefund || grant.ExpiresAt != nil {
		t.Fatalf("refund grant must be non-expiring refund scene: %+v", grant)
	}
	if grant.RemainingCredits != 40 {
		t.Fatalf("unexpected refund balance: %+v", grant)
	}

	if len(repo.transactions) != 1 {
		t.Fatalf("expected one audit row, got %d", len(repo.transactions))
	}
	txn := repo.transactions[0]
	if txn.Type != enums.TransactionTypeGrant || txn.Scene != enums.SceneRefund {
		t.Fatalf("unexpected refund audit row: %+v", txn)
	}
	if txn.TaskID == nil || *txn.TaskID != taskID {
		t.Fatalf("refund audit row missing task reference: %+v", txn)
	}
}

func TestService_Balance(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	userID := uuid.New()
	past := time.Now().Add(-time.Hour)
	repo.grants = []models.CreditGrant{
		{ID: uuid.New(), UserID: userID, RemainingCredits: 25, Status: enums.GrantStatusActive},
		{ID: uuid.New(), UserID: userID, RemainingCredits: 10, Status: enums.GrantStatusActive, ExpiresAt: &past},
	}

	balance, err := svc.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 25 {
		t.Fatalf("expected 25, got %d", balance)
	}

	if _, err := svc.Balance(context.Background(), uuid.Nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_ListTransactionsCursor(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, nil)

	userID := uuid.New()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		repo.transactions = append(repo.transactions, models.CreditTransaction{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      enums.TransactionTypeGrant,
			Scene:     enums.SceneAdminGrant,
			Amount:    int64(i + 1),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	result, err := svc.ListTransactions(context.Background(), ListTransactionsParams{
		UserID: userID,
		Limit:  3,
	})
	if err != nil {
		t.Fatalf("ListTransactions error: %v", err)
	}
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(result.Items))
	}
	if result.Cursor == "" {
		t.Fatal("expected next cursor when more rows remain")
	}
	if _, err := pagination.ParseCursor(result.Cursor); err != nil {
		t.Fatalf("cursor should round-trip: %v", err)
	}
}

type serialTxRunner struct {
	mtx sync.Mutex
}

func (r *serialTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return fn(&gorm.DB{})
}

func TestService_ConcurrentConsumeSingleWinner(t *testing.T) {
	repo := newFakeRepository()
	svc, err := NewService(repo, &serialTxRunner{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	userID := uuid.New()
	repo.grants = []models.CreditGrant{
		{ID: uuid.New(), UserID: userID, Scene: enums.ScenePurchase, Amount: 10, RemainingCredits: 10, Status: enums.GrantStatusActive},
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(context.Background(), ConsumeInput{
				UserID: userID,
				Amount: 10,
				Scene:  enums.SceneImageGeneration,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if successes != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d insufficient", successes, insufficient)
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("expected one audit row, got %d", len(repo.transactions))
	}
	if repo.grants[0].RemainingCredits != 0 {
		t.Fatalf("expected grant fully drained, got %d", repo.grants[0].RemainingCredits)
	}
}

func TestService_ConsumeAndRefundRecordMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	repo := newFakeRepository()
	svc, err := NewService(repo, fakeTxRunner{}, nil, metrics.NewGenerationMetrics(reg))
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	userID := uuid.New()
	repo.grants = []models.CreditGrant{
		{ID: uuid.New(), UserID: userID, Scene: enums.ScenePurchase, Amount: 20, RemainingCredits: 20, Status: enums.GrantStatusActive},
	}

	if _, err := svc.Consume(context.Background(), ConsumeInput{
		UserID: userID,
		Amount: 6,
		Scene:  enums.SceneImageGeneration,
	}); err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if _, err := svc.Refund(context.Background(), RefundInput{
		UserID: userID,
		Amount: 6,
	}); err != nil {
		t.Fatalf("Refund error: %v", err)
	}

	if got := counterValue(t, reg, "credits_consumed_total"); got != 6 {
		t.Fatalf("expected 6 credits consumed, got %f", got)
	}
	if got := counterValue(t, reg, "credits_refunded_total"); got != 6 {
		t.Fatalf("expected 6 credits refunded, got %f", got)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, metric := range mf.GetMetric() {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %q not found", name)
	return 0
}
