package squarewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"

	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db/models"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
	pkgerrors "github.com/pixelmint-ai/pixelmint-backend/pkg/errors"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
)

const paymentStatusCompleted = "COMPLETED"

type squareClient interface {
	VerifySignature(signature, notificationURL string, body []byte) bool
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

type creditGranter interface {
	Grant(ctx context.Context, input credits.GrantInput) (*models.CreditGrant, error)
}

type idempotencyGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// ServiceParams wire the purchase webhook.
type ServiceParams struct {
	Square          squareClient
	Credits         creditGranter
	Guard           idempotencyGuard
	Logger          *logger.Logger
	NotificationURL string
}

// Service turns completed Square credit-package payments into ledger grants.
// Verification happens against the raw body, then the payment is re-fetched
// from Square so a forged or stale payload can never mint credits.
type Service struct {
	square  squareClient
	credits creditGranter
	guard   idempotencyGuard
	logg    *logger.Logger
	url     string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Square == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	if params.Credits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credits service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if strings.TrimSpace(params.NotificationURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification url required")
	}
	return &Service{
		square:  params.Square,
		credits: params.Credits,
		guard:   params.Guard,
		logg:    params.Logger,
		url:     params.NotificationURL,
	}, nil
}

type webhookEvent struct {
	EventID string      `json:"event_id"`
	Type    string      `json:"type"`
	Data    webhookData `json:"data"`
}

type webhookData struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	Object webhookObject `json:"object"`
}

type webhookObject struct {
	Payment *webhookPayment `json:"payment"`
}

type webhookPayment struct {
	ID string `json:"id"`
}

// HandleEvent verifies and processes one raw webhook delivery.
func (s *Service) HandleEvent(ctx context.Context, signature string, body []byte) error {
	if !s.square.VerifySignature(signature, s.url, body) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
	default:
		return nil
	}
	if event.Data.Object.Payment == nil || event.Data.Object.Payment.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id missing")
	}

	if s.guard != nil && event.EventID != "" {
		seen, err := s.guard.CheckAndMark(ctx, event.EventID)
		if err != nil {
			// Redis being down must not drop purchases; the grant
			// idempotency key still dedupes.
			s.logg.Error(ctx, "webhook idempotency check failed; continuing", err)
		} else if seen {
			return nil
		}
	}

	if err := s.creditPayment(ctx, event.Data.Object.Payment.ID); err != nil {
		if s.guard != nil && event.EventID != "" {
			if delErr := s.guard.Delete(ctx, event.EventID); delErr != nil {
				s.logg.Error(ctx, "failed to release webhook idempotency mark", delErr)
			}
		}
		return err
	}
	return nil
}

func (s *Service) creditPayment(ctx context.Context, paymentID string) error {
	payment, err := s.square.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "square returned no payment")
	}

	status := stringValue(payment.GetStatus())
	if status != paymentStatusCompleted {
		// APPROVED / PENDING payments fire payment.updated again on
		// completion; nothing to do yet.
		return nil
	}

	userID, err := uuid.Parse(stringValue(payment.GetReferenceID()))
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference is not a user id")
	}

	money := payment.GetAmountMoney()
	if money == nil || money.Amount == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment amount missing")
	}
	currency := "USD"
	if money.Currency != nil {
		currency = string(*money.Currency)
	}
	pkg, ok := PackageForAmount(*money.Amount, currency)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("no credit package costs %d %s", *money.Amount, currency))
	}

	key := GrantIdempotencyKey(paymentID)
	grant, err := s.credits.Grant(ctx, credits.GrantInput{
		UserID:         userID,
		Scene:          enums.ScenePurchase,
		Amount:         pkg.Credits,
		IdempotencyKey: &key,
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id": paymentID,
		"package":    pkg.Name,
		"credits":    pkg.Credits,
		"grant_id":   grant.ID,
	})
	s.logg.Info(logCtx, "credit purchase granted")
	return nil
}

// GrantIdempotencyKey is the ledger key for a payment's grant; processing the
// same payment through any number of deliveries mints credits once.
func GrantIdempotencyKey(paymentID string) string {
	return "square:payment:" + paymentID
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
