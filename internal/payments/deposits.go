package payments

import (
	"context"
	"encoding/json"
	"fmt"

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

// DepositResult is a created deposit and the PIX charge the user must pay
type DepositResult struct {
	Payment           *domain.Payment `json:"payment"`
	PaymentCode       string          `json:"payment_code"`
	PaymentCodeBase64 string          `json:"payment_code_base64,omitempty"`
}

// RequestDeposit creates a PENDING deposit and asks the PSP for a PIX charge.
// When the PSP refuses, the deposit ends FAILED and a *domain.PSPError is
// returned.
func (s *Service) RequestDeposit(ctx context.Context, userID string, amount decimal.Decimal) (*DepositResult, error) {
	if !amount.IsPositive() || !money.HasValidScale(amount) {
		return nil, domain.ErrInvalidAmount
	}
	minDeposit, err := settings.Decimal(ctx, s.settings, settings.KeyMinDeposit, s.cfg.MinDeposit)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(minDeposit) {
		return nil, fmt.Errorf("%w: minimum deposit is %s", domain.ErrInvalidAmount, money.Format(minDeposit))
	}

	profile, err := s.users.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading payer profile: %w", err)
	}

	p, err := domain.NewDeposit(ulid.Make().String(), userID, ulid.Make().String(), amount)
	if err != nil {
		return nil, err
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreatePayment(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("creating deposit: %w", err)
	}

	start := s.now()
	resp, err := s.gateway.RequestPixIn(ctx, suitpay.PixInRequest{
		RequestNumber: p.ExternalID,
		DueDate:       start.Add(s.cfg.DepositExpiry).Format("2006-01-02"),
		Amount:        json.Number(money.Fixed(amount)),
		CallbackURL:   s.cfg.CallbackBaseURL + "/webhooks/suitpay/cash-in",
		Client: suitpay.Payer{
			Name:     profile.Name,
			Document: profile.TaxID,
			Email:    profile.Email,
		},
	})
	s.observe(suitpay.OpPixIn, start, err)
	if err != nil {
		pspErr := pspError(suitpay.OpPixIn, err)
		if failErr := s.failDeposit(ctx, p.ID, pspErr.Error(), domain.MetaError); failErr != nil {
			s.logger.Error("recording failed deposit", "error", failErr, "payment_id", p.ID)
		}
		s.logger.Warn("deposit charge refused",
			"payment_id", p.ID,
			"user_id", userID,
			"error", pspErr,
		)
		return nil, pspErr
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.PaymentForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		current.ProviderID = resp.IDTransaction
		current.SetMeta(domain.MetaPaymentCode, resp.PaymentCode)
		if resp.PaymentCodeBase64 != "" {
			current.SetMeta(domain.MetaPaymentCodeBase64, resp.PaymentCodeBase64)
		}
		if err := tx.SavePayment(ctx, current); err != nil {
			return err
		}
		p = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording deposit charge: %w", err)
	}

	s.logger.Info("deposit requested",
		"payment_id", p.ID,
		"user_id", userID,
		"amount", amount.String(),
		"provider_id", p.ProviderID,
	)

	return &DepositResult{
		Payment:           p,
		PaymentCode:       resp.PaymentCode,
		PaymentCodeBase64: resp.PaymentCodeBase64,
	}, nil
}

// ConfirmDeposit completes a deposit by hand. Confirming a completed deposit
// is a no-op; confirming a failed one returns ErrAlreadySettled.
func (s *Service) ConfirmDeposit(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.completeDeposit(ctx, paymentID, byAdmin)
}

// completeDeposit marks the deposit COMPLETED and credits the wallet in one
// transaction.
func (s *Service) completeDeposit(ctx context.Context, paymentID, by string) (*domain.Payment, error) {
	var p *domain.Payment
	var changed bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		changed = false
		var err error
		p, err = tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Type != domain.PaymentDeposit {
			return fmt.Errorf("payment %s is a %s: %w", p.ID, p.Type, domain.ErrInvalidTransition)
		}
		if p.Status == domain.PaymentCompleted {
			return nil
		}
		if err := p.Transition(domain.PaymentCompleted); err != nil {
			return err
		}
		p.SetMeta(domain.MetaCompletedBy, by)
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}

		_, err = s.accounting.Credit(ctx, tx, ledger.Movement{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Description: "Depósito via PIX",
			ReferenceID: p.ID,
			Type:        domain.StatementDeposit,
		})
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("completing deposit %s: %w", paymentID, err)
	}

	if changed {
		s.logger.Info("deposit completed",
			"payment_id", p.ID,
			"user_id", p.UserID,
			"amount", p.Amount.String(),
			"by", by,
		)
		s.publish(ctx, events.EventPaymentCompleted, p, "")
	}
	return p, nil
}

// failDeposit moves a PENDING deposit to FAILED. No wallet effect: deposits
// are credited only on completion.
func (s *Service) failDeposit(ctx context.Context, paymentID, reason, metaKey string) error {
	var p *domain.Payment
	var changed bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		changed = false
		var err error
		p, err = tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentFailed {
			return nil
		}
		if err := p.Transition(domain.PaymentFailed); err != nil {
			return err
		}
		p.SetMeta(metaKey, reason)
		if err := tx.SavePayment(ctx, p); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, events.EventPaymentFailed, p, reason)
	}
	return nil
}
