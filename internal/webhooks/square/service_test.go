package squarewebhook

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"

	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

const testNotificationURL = "https://api.pixelmint.dev/api/v1/webhooks/square"

type fakeSquareClient struct {
	valid       bool
	payment     *sq.Payment
	getErr      error
	getPayments int
}

func (f *fakeSquareClient) VerifySignature(signature, notificationURL string, body []byte) bool {
	return f.valid && notificationURL == testNotificationURL
}

func (f *fakeSquareClient) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	f.getPayments++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.payment, nil
}

type fakeGranter struct {
	grants []credits.GrantInput
	err    error
}

func (f *fakeGranter) Grant(ctx context.Context, input credits.GrantInput) (*models.CreditGrant, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.grants = append(f.grants, input)
	return &models.CreditGrant{ID: uuid.New()}, nil
}

type fakeGuard struct {
	seen    bool
	marks   []string
	deletes []string
}

func (f *fakeGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	f.marks = append(f.marks, eventID)
	return f.seen, nil
}

func (f *fakeGuard) Delete(ctx context.Context, eventID string) error {
	f.deletes = append(f.deletes, eventID)
	return nil
}

func strPtr(s string) *string { return &s }

func completedPayment(paymentID string, userID uuid.UUID, amountCents int64) *sq.Payment {
	amount := amountCents
	currency := sq.Currency("USD")
	return &sq.Payment{
		ID:          strPtr(paymentID),
		Status:      strPtr("COMPLETED"),
		ReferenceID: strPtr(userID.String()),
		AmountMoney: &sq.Money{Amount: &amount, Currency: &currency},
	}
}

func paymentEventBody(eventID, paymentID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event_id":%q,"type":"payment.updated","data":{"type":"payment","id":%q,"object":{"payment":{"id":%q}}}}`,
		eventID, paymentID, paymentID,
	))
}

func newWebhookService(t *testing.T, client *fakeSquareClient, granter *fakeGranter, guard *fakeGuard) *Service {
	t.Helper()
	params := ServiceParams{
		Square:          client,
		Credits:         granter,
		Logger:          logger.New(logger.Options{ServiceName: "test"}),
		NotificationURL: testNotificationURL,
	}
	if guard != nil {
		params.Guard = guard
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestHandleEventGrantsPurchasedCredits(t *testing.T) {
	userID := uuid.New()
	client := &fakeSquareClient{valid: true, payment: completedPayment("pay-1", userID, 999)}
	granter := &fakeGranter{}
	svc := newWebhookService(t, client, granter, nil)

	err := svc.HandleEvent(context.Background(), "sig", paymentEventBody("evt-1", "pay-1"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(granter.grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(granter.grants))
	}
	grant := granter.grants[0]
	if grant.UserID != userID || grant.Amount != 120 {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if grant.IdempotencyKey == nil || *grant.IdempotencyKey != "square:payment:pay-1" {
		t.Fatalf("unexpected idempotency key: %v", grant.IdempotencyKey)
	}
	if grant.ExpiresAt != nil {
		t.Fatalf("purchased credits must not expire")
	}
}

func TestHandleEventRejectsBadSignature(t *testing.T) {
	client := &fakeSquareClient{valid: false}
	granter := &fakeGranter{}
	svc := newWebhookService(t, client, granter, nil)

	err := svc.HandleEvent(context.Background(), "sig", paymentEventBody("evt-1", "pay-1"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if client.getPayments != 0 || len(granter.grants) != 0 {
		t.Fatalf("nothing may run on a bad signature")
	}
}

func TestHandleEventIgnoresIncompletePayment(t *testing.T) {
	payment := completedPayment("pay-1", uuid.New(), 999)
	payment.Status = strPtr("APPROVED")
	client := &fakeSquareClient{valid: true, payment: payment}
	granter := &fakeGranter{}
	svc := newWebhookService(t, client, granter, nil)

	if err := svc.HandleEvent(context.Background(), "sig", paymentEventBody("evt-1", "pay-1")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(granter.grants) != 0 {
		t.Fatalf("incomplete payment must not grant")
	}
}

func TestHandleEventSkipsDuplicateDelivery(t *testing.T) {
	client := &fakeSquareClient{valid: true, payment: completedPayment("pay-1", uuid.New(), 999)}
	granter := &fakeGranter{}
	guard := &fakeGuard{seen: true}
	svc := newWebhookService(t, client, granter, guard)

	if err := svc.HandleEvent(context.Background(), "sig", paymentEventBody("evt-1", "pay-1")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if client.getPayments != 0 || len(granter.grants) != 0 {
		t.Fatalf("duplicate delivery must be a no-op")
	}
	if len(guard.marks) != 1 || guard.marks[0] != "evt-1" {
		t.Fatalf("guard not consulted: %v", guard.marks)
	}
}

func TestHandleEventReleasesGuardOnFailure(t *testing.T) {
	client := &fakeSquareClient{valid: true, payment: completedPayment("pay-1", uuid.New(), 123)} // no package costs 123
	granter := &fakeGranter{}
	guard := &fakeGuard{}
	svc := newWebhookService(t, client, granter, guard)

	err := svc.HandleEvent(context.Background(), "sig", paymentEventBody("evt-1", "pay-1"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(guard.deletes) != 1 || guard.deletes[0] != "evt-1" {
		t.Fatalf("failed event must release its mark: %v", guard.deletes)
	}
}

func TestHandleEventIgnoresUnrelatedEvents(t *testing.T) {
	client := &fakeSquareClient{valid: true}
	granter := &fakeGranter{}
	svc := newWebhookService(t, client, granter, nil)

	body := []byte(`{"event_id":"evt-9","type":"refund.created","data":{}}`)
	if err := svc.HandleEvent(context.Background(), "sig", body); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if client.getPayments != 0 {
		t.Fatalf("unrelated events must not hit square")
	}
}
