package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bolao/internal/ledger/domain"
	"bolao/internal/providers/suitpay"
)

// Webhook kinds, as recorded in metrics
const (
	kindCashIn  = "cash_in"
	kindCashOut = "cash_out"
)

// Webhook outcomes, as recorded in metrics
const (
	outcomeApplied  = "applied"
	outcomeIgnored  = "ignored"
	outcomeRejected = "rejected"
	outcomeFlagged  = "flagged"
	outcomeError    = "error"
)

// HandleCashIn applies a deposit callback. An invalid hash or an unknown
// payment is rejected without any state change. Statuses other than
// PAID_OUT and CHARGEBACK are acknowledged and ignored.
func (s *Service) HandleCashIn(ctx context.Context, wh *suitpay.CashInWebhook) error {
	if !wh.Verify(s.cfg.WebhookSecret) {
		s.metrics.Webhook(kindCashIn, wh.StatusTransaction, outcomeRejected)
		s.logger.Warn("cash-in webhook rejected: bad hash",
			"provider_id", wh.IDTransaction,
			"request_number", wh.RequestNumber,
		)
		return domain.ErrInvalidSignature
	}

	p, err := s.lookupByProvider(ctx, wh.IDTransaction, wh.RequestNumber)
	if err != nil {
		s.metrics.Webhook(kindCashIn, wh.StatusTransaction, outcomeRejected)
		return err
	}
	if p.Type != domain.PaymentDeposit {
		s.metrics.Webhook(kindCashIn, wh.StatusTransaction, outcomeRejected)
		return fmt.Errorf("cash-in for withdrawal %s: %w", p.ID, domain.ErrNotFound)
	}

	log := s.logger.With("payment_id", p.ID, "provider_id", wh.IDTransaction, "status", wh.StatusTransaction)

	switch wh.StatusTransaction {
	case suitpay.StatusPaidOut:
		paid, perr := decimal.NewFromString(wh.Value.String())
		if perr != nil || !paid.Equal(p.Amount) {
			log.Error("PSP paid amount differs from the deposit", "paid", wh.Value.String(), "amount", p.Amount.String())
			return s.flagged(ctx, kindCashIn, wh.StatusTransaction, p.ID, "paid amount differs")
		}
		_, err = s.completeDeposit(ctx, p.ID, byWebhook)
		if errors.Is(err, domain.ErrAlreadySettled) {
			log.Error("PSP confirmed a deposit that already failed")
			return s.flagged(ctx, kindCashIn, wh.StatusTransaction, p.ID, "paid after deposit failed")
		}

	case suitpay.StatusChargeback:
		err = s.failDeposit(ctx, p.ID, "chargeback", domain.MetaFailureReason)
		if errors.Is(err, domain.ErrAlreadySettled) {
			log.Error("chargeback on a completed deposit")
			return s.flagged(ctx, kindCashIn, wh.StatusTransaction, p.ID, "chargeback after completion")
		}

	default:
		s.metrics.Webhook(kindCashIn, wh.StatusTransaction, outcomeIgnored)
		log.Warn("ignoring cash-in status")
		return nil
	}

	if err != nil {
		s.metrics.Webhook(kindCashIn, wh.StatusTransaction, outcomeError)
		return err
	}
	s.metrics.Webhook(kindCashIn, wh.StatusTransaction, outcomeApplied)
	return nil
}

// HandleCashOut applies a withdrawal callback with the same rules as
// HandleCashIn. PAID_OUT completes the withdrawal; CANCELED releases the
// funds.
func (s *Service) HandleCashOut(ctx context.Context, wh *suitpay.CashOutWebhook) error {
	if !wh.Verify(s.cfg.WebhookSecret) {
		s.metrics.Webhook(kindCashOut, wh.StatusTransaction, outcomeRejected)
		s.logger.Warn("cash-out webhook rejected: bad hash",
			"provider_id", wh.IDTransaction,
			"request_number", wh.RequestNumber,
		)
		return domain.ErrInvalidSignature
	}

	p, err := s.lookupByProvider(ctx, wh.IDTransaction, wh.RequestNumber)
	if err != nil {
		s.metrics.Webhook(kindCashOut, wh.StatusTransaction, outcomeRejected)
		return err
	}
	if p.Type != domain.PaymentWithdraw {
		s.metrics.Webhook(kindCashOut, wh.StatusTransaction, outcomeRejected)
		return fmt.Errorf("cash-out for deposit %s: %w", p.ID, domain.ErrNotFound)
	}

	log := s.logger.With("payment_id", p.ID, "provider_id", wh.IDTransaction, "status", wh.StatusTransaction)

	switch wh.StatusTransaction {
	case suitpay.StatusPaidOut:
		_, err = s.completeWithdrawal(ctx, p.ID, wh.IDTransaction)

	case suitpay.StatusCanceled:
		_, err = s.failWithdrawal(ctx, p.ID, domain.PaymentCanceled, "canceled by provider")
		if errors.Is(err, domain.ErrAlreadySettled) {
			log.Error("cancellation of a completed withdrawal")
			return s.flagged(ctx, kindCashOut, wh.StatusTransaction, p.ID, "canceled after completion")
		}

	default:
		s.metrics.Webhook(kindCashOut, wh.StatusTransaction, outcomeIgnored)
		log.Warn("ignoring cash-out status")
		return nil
	}

	if err != nil {
		s.metrics.Webhook(kindCashOut, wh.StatusTransaction, outcomeError)
		return err
	}
	s.metrics.Webhook(kindCashOut, wh.StatusTransaction, outcomeApplied)
	return nil
}

// flagged records a contradictory callback and acknowledges it, since
// retrying it would not change the outcome.
func (s *Service) flagged(ctx context.Context, kind, status, paymentID, reason string) error {
	if err := s.flagForReview(ctx, paymentID, reason); err != nil {
		s.metrics.Webhook(kind, status, outcomeError)
		return err
	}
	s.metrics.Webhook(kind, status, outcomeFlagged)
	return nil
}
