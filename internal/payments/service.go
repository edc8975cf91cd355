// Package payments drives deposits and withdrawals through their settlement
// lifecycle against the PSP. Every status change is a compare-and-set on the
// locked payment row, so replayed or reordered callbacks are harmless. No
// database transaction is held open across a PSP call.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"bolao/internal/common/events"
	"bolao/internal/common/metrics"
	"bolao/internal/common/middleware"
	"bolao/internal/ledger"
	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store"
	"bolao/internal/providers/suitpay"
	"bolao/internal/settings"
)

// Gateway is the PSP
type Gateway interface {
	RequestPixIn(ctx context.Context, req suitpay.PixInRequest) (*suitpay.PixInResponse, error)
	RequestPixOut(ctx context.Context, req suitpay.PixOutRequest) (*suitpay.PixOutResponse, error)
	GetPixOutReceipt(ctx context.Context, transactionID string) ([]byte, error)
}

// Profile is what the PSP needs to know about a user
type Profile struct {
	Name  string
	TaxID string
	Email string
}

// Users resolves user profiles
type Users interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}

// ReceiptStore keeps payout receipts
type ReceiptStore interface {
	Save(ctx context.Context, paymentID string, data []byte) (path string, err error)
}

// Config holds payment settlement configuration. The decimal values are
// defaults; the settings table overrides them at runtime.
type Config struct {
	CallbackBaseURL    string          `envconfig:"PAYMENTS_CALLBACK_BASE_URL" default:"http://localhost:8080"`
	WebhookSecret      string          `envconfig:"SUITPAY_WEBHOOK_SECRET"`
	MinDeposit         decimal.Decimal `envconfig:"PAYMENTS_MIN_DEPOSIT" default:"1"`
	MinWithdrawal      decimal.Decimal `envconfig:"PAYMENTS_MIN_WITHDRAWAL" default:"10"`
	AutoApprovalLimit  decimal.Decimal `envconfig:"PAYMENTS_AUTO_APPROVAL_LIMIT" default:"500"`
	RequireOwnDocument bool            `envconfig:"PAYMENTS_REQUIRE_OWN_DOCUMENT" default:"true"`
	DepositExpiry      time.Duration   `envconfig:"PAYMENTS_DEPOSIT_EXPIRY" default:"30m"`
	ReceiptDir         string          `envconfig:"PAYMENTS_RECEIPT_DIR" default:"./data/receipts"`

	ReconcileInterval   time.Duration `envconfig:"PAYMENTS_RECONCILE_INTERVAL" default:"1m"`
	ReconcileGrace      time.Duration `envconfig:"PAYMENTS_RECONCILE_GRACE" default:"5m"`
	ReconcileBatch      int           `envconfig:"PAYMENTS_RECONCILE_BATCH" default:"50"`
	MaxDispatchAttempts int           `envconfig:"PAYMENTS_MAX_DISPATCH_ATTEMPTS" default:"5"`
}

// Completion sources recorded in metadata
const (
	byWebhook = "webhook"
	byAdmin   = "admin"
)

// Service is the payment settlement state machine
type Service struct {
	store      store.Store
	accounting *ledger.Accounting
	gateway    Gateway
	users      Users
	settings   settings.Reader
	receipts   ReceiptStore
	publisher  events.Publisher
	metrics    *metrics.Metrics
	cfg        Config
	logger     *slog.Logger

	now func() time.Time
}

// Deps groups the collaborators of the payment service
type Deps struct {
	Store      store.Store
	Accounting *ledger.Accounting
	Gateway    Gateway
	Users      Users
	Settings   settings.Reader
	Receipts   ReceiptStore
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
}

// NewService creates the payment service
func NewService(deps Deps, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:      deps.Store,
		accounting: deps.Accounting,
		gateway:    deps.Gateway,
		users:      deps.Users,
		settings:   deps.Settings,
		receipts:   deps.Receipts,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// GetPayment returns a payment owned by userID
func (s *Service) GetPayment(ctx context.Context, userID, paymentID string) (*domain.Payment, error) {
	p, err := s.store.Payment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("payment %s: %w", paymentID, domain.ErrNotFound)
	}
	return p, nil
}

// lookupByProvider finds the payment a callback refers to: by the PSP
// transaction id, then by the request number we sent.
func (s *Service) lookupByProvider(ctx context.Context, providerID, requestNumber string) (*domain.Payment, error) {
	if providerID != "" {
		p, err := s.store.PaymentByProviderID(ctx, providerID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if requestNumber != "" {
		return s.store.PaymentByExternalID(ctx, requestNumber)
	}
	return nil, fmt.Errorf("payment for transaction %s: %w", providerID, domain.ErrNotFound)
}

// pspError converts a gateway failure into the domain error type
func pspError(op string, err error) *domain.PSPError {
	var spErr *suitpay.Error
	if errors.As(err, &spErr) {
		return &domain.PSPError{Op: op, Message: spErr.Message, Timeout: spErr.Timeout, Err: err}
	}
	return &domain.PSPError{Op: op, Err: err}
}

// observe records the latency and outcome of a PSP call
func (s *Service) observe(op string, start time.Time, err error) {
	outcome := "ok"
	var spErr *suitpay.Error
	switch {
	case err == nil:
	case errors.As(err, &spErr) && spErr.Timeout:
		outcome = "timeout"
	default:
		outcome = "error"
	}
	s.metrics.PSPRequest(op, outcome, time.Since(start))
}

// publish emits a settlement event. The payment is already committed, so
// failures are only logged.
func (s *Service) publish(ctx context.Context, eventType string, p *domain.Payment, reason string) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, events.AggregatePayment, p.ID, events.PaymentSettledData{
		PaymentID:  p.ID,
		UserID:     p.UserID,
		Type:       string(p.Type),
		Status:     string(p.Status),
		Amount:     p.Amount,
		ProviderID: p.ProviderID,
		Reason:     reason,
		SettledAt:  p.UpdatedAt,
	})
	if err != nil {
		s.logger.Error("building payment event failed", "error", err, "payment_id", p.ID)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("payment event publish failed", "error", err, "payment_id", p.ID, "type", eventType)
	}
}

// flagForReview marks a payment whose PSP outcome contradicts its terminal
// state. Money may have moved outside the state machine.
func (s *Service) flagForReview(ctx context.Context, paymentID, reason string) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		p.SetMeta(domain.MetaReviewRequired, reason)
		return tx.SavePayment(ctx, p)
	})
}
