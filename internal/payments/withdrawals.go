package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"bolao/internal/common/events"
	"bolao/internal/common/money"
	"bolao/internal/ledger"
	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store"
	"bolao/internal/providers/suitpay"
	"bolao/internal/settings"
)

// WithdrawalRequest asks to pay part of the balance out to a PIX key
type WithdrawalRequest struct {
	UserID     string
	Amount     decimal.Decimal
	PixKey     string
	PixKeyType string
}

// RequestWithdrawal reserves the amount and creates a PROCESSING withdrawal.
// Amounts under the auto-approval limit are dispatched at once; the rest
// wait for an admin. If the automatic dispatch is refused, the withdrawal
// is returned FAILED together with the *domain.PSPError.
func (s *Service) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Payment, error) {
	if !req.Amount.IsPositive() || !money.HasValidScale(req.Amount) {
		return nil, domain.ErrInvalidAmount
	}
	minWithdrawal, err := settings.Decimal(ctx, s.settings, settings.KeyMinWithdrawal, s.cfg.MinWithdrawal)
	if err != nil {
		return nil, err
	}
	if req.Amount.LessThan(minWithdrawal) {
		return nil, fmt.Errorf("%w: minimum withdrawal is %s", domain.ErrInvalidAmount, money.Format(minWithdrawal))
	}

	requireOwn, err := settings.Bool(ctx, s.settings, settings.KeyRequireOwnDocument, s.cfg.RequireOwnDocument)
	if err != nil {
		return nil, err
	}
	var document string
	if requireOwn {
		profile, err := s.users.Profile(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("loading account holder: %w", err)
		}
		document = digits(profile.TaxID)
		if document == "" || digits(req.PixKey) != document {
			return nil, domain.ErrInvalidPixKey
		}
	}

	p, err := domain.NewWithdrawal(ulid.Make().String(), req.UserID, ulid.Make().String(), req.Amount)
	if err != nil {
		return nil, err
	}
	p.SetMeta(domain.MetaPixKey, req.PixKey)
	p.SetMeta(domain.MetaPixKeyType, req.PixKeyType)
	if document != "" {
		p.SetMeta(domain.MetaDocumentValidation, document)
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		_, err := s.accounting.Reserve(ctx, tx, ledger.Movement{
			UserID:      req.UserID,
			Amount:      req.Amount,
			Description: "Saque via PIX",
			ReferenceID: p.ID,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating withdrawal: %w", err)
	}

	s.logger.Info("withdrawal requested",
		"payment_id", p.ID,
		"user_id", req.UserID,
		"amount", req.Amount.String(),
	)

	limit, err := settings.Decimal(ctx, s.settings, settings.KeyAutoApprovalLimit, s.cfg.AutoApprovalLimit)
	if err != nil {
		s.logger.Error("reading auto-approval limit, leaving withdrawal for review", "error", err, "payment_id", p.ID)
		return p, nil
	}
	if !req.Amount.LessThan(limit) {
		return p, nil
	}

	dispatched, err := s.Dispatch(ctx, p.ID)
	var pspErr *domain.PSPError
	if errors.As(err, &pspErr) && pspErr.Timeout {
		// Left PROCESSING for the reconciler.
		return s.store.Payment(ctx, p.ID)
	}
	if err != nil {
		if current, getErr := s.store.Payment(ctx, p.ID); getErr == nil {
			return current, err
		}
		return nil, err
	}
	return dispatched, nil
}

// Dispatch sends a PROCESSING withdrawal to the PSP. It is idempotent: once
// the PSP has acknowledged the payout, further calls return the stored
// payment without contacting the PSP. A refused payout fails the withdrawal
// and releases its funds. A timed-out payout stays PROCESSING.
func (s *Service) Dispatch(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var p *domain.Payment
	var alreadySent bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		alreadySent = false
		var err error
		p, err = tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Type != domain.PaymentWithdraw {
			return fmt.Errorf("payment %s is a %s: %w", p.ID, p.Type, domain.ErrInvalidTransition)
		}
		if p.ProviderID != "" {
			alreadySent = true
			return nil
		}
		if p.IsTerminal() {
			return domain.ErrAlreadySettled
		}

		attempts, _ := strconv.Atoi(p.Meta(domain.MetaDispatchAttempts))
		p.SetMeta(domain.MetaDispatchAttempts, strconv.Itoa(attempts+1))
		p.SetMeta(domain.MetaDispatchRequestedAt, s.now().UTC().Format(time.RFC3339))
		return tx.SavePayment(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("dispatching withdrawal %s: %w", paymentID, err)
	}
	if alreadySent {
		s.logger.Info("withdrawal already dispatched", "payment_id", p.ID, "provider_id", p.ProviderID)
		return p, nil
	}

	start := s.now()
	resp, err := s.gateway.RequestPixOut(ctx, suitpay.PixOutRequest{
		ExternalID:         p.ExternalID,
		Value:              json.Number(money.Fixed(p.Amount)),
		Key:                p.Meta(domain.MetaPixKey),
		TypeKey:            p.Meta(domain.MetaPixKeyType),
		CallbackURL:        s.cfg.CallbackBaseURL + "/webhooks/suitpay/cash-out",
		DocumentValidation: p.Meta(domain.MetaDocumentValidation),
	})
	s.observe(suitpay.OpPixOut, start, err)
	if err != nil {
		return s.dispatchFailed(ctx, p, pspError(suitpay.OpPixOut, err))
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if current.ProviderID == "" {
			current.ProviderID = resp.IDTransaction
		}
		current.SetMeta(domain.MetaDispatchedAt, s.now().UTC().Format(time.RFC3339))
		if current.Status == domain.PaymentFailed || current.Status == domain.PaymentCanceled {
			current.SetMeta(domain.MetaReviewRequired, "payout accepted after withdrawal was "+strings.ToLower(string(current.Status)))
		}
		if err := tx.SavePayment(ctx, current); err != nil {
			return err
		}
		p = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording dispatch of %s: %w", paymentID, err)
	}

	s.logger.Info("withdrawal dispatched",
		"payment_id", p.ID,
		"user_id", p.UserID,
		"provider_id", p.ProviderID,
		"amount", p.Amount.String(),
	)
	return p, nil
}

func (s *Service) dispatchFailed(ctx context.Context, p *domain.Payment, pspErr *domain.PSPError) (*domain.Payment, error) {
	if pspErr.Timeout {
		err := s.store.WithTx(ctx, func(tx store.Tx) error {
			current, err := tx.PaymentForUpdate(ctx, p.ID)
			if err != nil {
				return err
			}
			current.SetMeta(domain.MetaDispatchError, pspErr.Error())
			return tx.SavePayment(ctx, current)
		})
		if err != nil {
			s.logger.Error("recording dispatch timeout", "error", err, "payment_id", p.ID)
		}
		s.logger.Warn("withdrawal dispatch timed out, will retry", "payment_id", p.ID, "error", pspErr)
		return nil, pspErr
	}

	s.logger.Warn("withdrawal dispatch refused", "payment_id", p.ID, "error", pspErr)
	if _, err := s.failWithdrawal(ctx, p.ID, domain.PaymentFailed, pspErr.Error()); err != nil {
		return nil, errors.Join(pspErr, fmt.Errorf("releasing funds: %w", err))
	}
	return nil, pspErr
}

// FailWithdrawal denies a withdrawal by hand and releases its funds. Failing
// a completed withdrawal returns ErrAlreadySettled; failing one that already
// failed or was canceled is a no-op.
func (s *Service) FailWithdrawal(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	if reason == "" {
		reason = "denied by admin"
	}
	return s.failWithdrawal(ctx, paymentID, domain.PaymentFailed, reason)
}

// failWithdrawal moves a PROCESSING withdrawal to FAILED or CANCELED and
// releases the locked funds in the same transaction.
func (s *Service) failWithdrawal(ctx context.Context, paymentID string, to domain.PaymentStatus, reason string) (*domain.Payment, error) {
	var p *domain.Payment
	var changed bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		changed = false
		var err error
		p, err = tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Type != domain.PaymentWithdraw {
			return fmt.Errorf("payment %s is a %s: %w", p.ID, p.Type, domain.ErrInvalidTransition)
		}
		switch p.Status {
		case domain.PaymentFailed, domain.PaymentCanceled:
			return nil
		case domain.PaymentCompleted:
			return domain.ErrAlreadySettled
		}

		if err := p.Transition(to); err != nil {
			return err
		}
		p.SetMeta(domain.MetaFailureReason, reason)
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}

		_, err = s.accounting.Release(ctx, tx, ledger.Movement{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Description: "Estorno de saque",
			ReferenceID: p.ID,
		})
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failing withdrawal %s: %w", paymentID, err)
	}

	if changed {
		if p.ProviderID != "" {
			s.logger.Warn("withdrawal failed after the PSP accepted it", "payment_id", p.ID, "provider_id", p.ProviderID)
		}
		s.logger.Info("withdrawal failed, funds released",
			"payment_id", p.ID,
			"user_id", p.UserID,
			"status", p.Status,
			"reason", reason,
		)
		s.publish(ctx, events.EventPaymentFailed, p, reason)
	}
	return p, nil
}

// completeWithdrawal marks the withdrawal COMPLETED and burns the locked
// funds, then fetches the receipt on a best-effort basis.
func (s *Service) completeWithdrawal(ctx context.Context, paymentID, providerID string) (*domain.Payment, error) {
	var p *domain.Payment
	var changed bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		changed = false
		var err error
		p, err = tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Type != domain.PaymentWithdraw {
			return fmt.Errorf("payment %s is a %s: %w", p.ID, p.Type, domain.ErrInvalidTransition)
		}
		if p.IsTerminal() {
			return nil
		}

		if err := p.Transition(domain.PaymentCompleted); err != nil {
			return err
		}
		if p.ProviderID == "" {
			p.ProviderID = providerID
		}
		p.SetMeta(domain.MetaCompletedBy, byWebhook)
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}

		if _, err := s.accounting.FinalizeWithdraw(ctx, tx, p.UserID, p.Amount); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("completing withdrawal %s: %w", paymentID, err)
	}
	if !changed {
		if p.Status == domain.PaymentFailed || p.Status == domain.PaymentCanceled {
			reason := "paid out after withdrawal was " + strings.ToLower(string(p.Status))
			if err := s.flagForReview(ctx, p.ID, reason); err != nil {
				return nil, err
			}
			s.logger.Error("PSP paid out a withdrawal that is no longer open",
				"payment_id", p.ID,
				"user_id", p.UserID,
				"status", p.Status,
				"amount", p.Amount.String(),
			)
		}
		return p, nil
	}

	s.logger.Info("withdrawal completed",
		"payment_id", p.ID,
		"user_id", p.UserID,
		"provider_id", p.ProviderID,
		"amount", p.Amount.String(),
	)
	s.publish(ctx, events.EventPaymentCompleted, p, "")

	if path, ok := s.storeReceipt(ctx, p); ok {
		p.ReceiptPath = path
	}
	return p, nil
}

// storeReceipt downloads and saves the payout receipt. Failures are logged
// and never affect the completed withdrawal.
func (s *Service) storeReceipt(ctx context.Context, p *domain.Payment) (string, bool) {
	if s.receipts == nil || p.ProviderID == "" {
		return "", false
	}

	start := s.now()
	data, err := s.gateway.GetPixOutReceipt(ctx, p.ProviderID)
	s.observe(suitpay.OpPixReceipt, start, err)
	if err != nil {
		s.logger.Warn("receipt fetch failed", "error", err, "payment_id", p.ID, "provider_id", p.ProviderID)
		return "", false
	}

	path, err := s.receipts.Save(ctx, p.ID, data)
	if err != nil {
		s.logger.Warn("receipt save failed", "error", err, "payment_id", p.ID)
		return "", false
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.PaymentForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		current.ReceiptPath = path
		return tx.SavePayment(ctx, current)
	})
	if err != nil {
		s.logger.Warn("recording receipt path failed", "error", err, "payment_id", p.ID)
		return "", false
	}
	return path, true
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
