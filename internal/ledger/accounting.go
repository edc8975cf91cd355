// Package ledger implements wallet accounting: the only code allowed to
// change a wallet's balance or locked funds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"bolao/internal/common/metrics"
	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store"
)

// Accounting provides the primitive money operations on a single wallet
type Accounting struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAccounting creates the wallet accounting service
func NewAccounting(st store.Store, m *metrics.Metrics, logger *slog.Logger) *Accounting {
	return &Accounting{
		store:   st,
		metrics: m,
		logger:  logger,
	}
}

// Movement describes one wallet mutation
type Movement struct {
	UserID      string
	Amount      decimal.Decimal
	Description string
	ReferenceID string
	// Type overrides the statement type the operation writes by default.
	Type domain.StatementType
}

// Operation names, as recorded in metrics and logs
const (
	OpCredit   = "credit"
	OpDebit    = "debit"
	OpReserve  = "reserve"
	OpRelease  = "release"
	OpFinalize = "finalize_withdraw"
)

// within runs fn inside tx, or inside a new transaction when tx is nil
func (a *Accounting) within(ctx context.Context, tx store.Tx, fn func(store.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return a.store.WithTx(ctx, fn)
}

// OpenWallet creates the user's wallet if it does not exist yet
func (a *Accounting) OpenWallet(ctx context.Context, tx store.Tx, userID string) (*domain.Wallet, error) {
	var wallet *domain.Wallet
	err := a.within(ctx, tx, func(tx store.Tx) error {
		w, err := domain.NewWallet(ulid.Make().String(), userID)
		if err != nil {
			return err
		}
		created, err := tx.CreateWallet(ctx, w)
		if err != nil {
			return err
		}
		if created {
			a.logger.Info("wallet opened", "user_id", userID, "wallet_id", w.ID)
		}
		wallet, err = tx.WalletForUpdate(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// Credit increments balance and appends a DEPOSIT statement of +amount
func (a *Accounting) Credit(ctx context.Context, tx store.Tx, m Movement) (*domain.Wallet, error) {
	return a.apply(ctx, tx, OpCredit, m, domain.StatementDeposit, m.Amount, (*domain.Wallet).Credit)
}

// Debit decrements balance and appends a WITHDRAW statement of -amount
func (a *Accounting) Debit(ctx context.Context, tx store.Tx, m Movement) (*domain.Wallet, error) {
	return a.apply(ctx, tx, OpDebit, m, domain.StatementWithdraw, m.Amount.Neg(), (*domain.Wallet).Debit)
}

// Reserve moves amount from balance to locked and appends a WITHDRAW
// statement of -amount: the funds are unavailable to the user from now on.
func (a *Accounting) Reserve(ctx context.Context, tx store.Tx, m Movement) (*domain.Wallet, error) {
	return a.apply(ctx, tx, OpReserve, m, domain.StatementWithdraw, m.Amount.Neg(), (*domain.Wallet).Reserve)
}

// Release moves amount from locked back to balance and appends a DEPOSIT
// statement of +amount reversing the reservation.
func (a *Accounting) Release(ctx context.Context, tx store.Tx, m Movement) (*domain.Wallet, error) {
	return a.apply(ctx, tx, OpRelease, m, domain.StatementDeposit, m.Amount, (*domain.Wallet).Release)
}

// FinalizeWithdraw burns locked funds after the PSP paid out. The debit was
// recorded at reserve time, so no statement is written.
func (a *Accounting) FinalizeWithdraw(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var wallet *domain.Wallet
	err := a.within(ctx, tx, func(tx store.Tx) error {
		w, err := tx.WalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := w.FinalizeWithdraw(amount); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		locked := w.Locked.String()
		tx.AfterCommit(func() {
			a.metrics.LedgerMovement(OpFinalize)
			a.logger.Info("withdrawal finalized",
				"user_id", userID,
				"amount", amount.String(),
				"locked", locked,
			)
		})
		wallet = w
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s for user %s: %w", OpFinalize, userID, err)
	}
	return wallet, nil
}

func (a *Accounting) apply(
	ctx context.Context,
	tx store.Tx,
	op string,
	m Movement,
	defaultType domain.StatementType,
	signed decimal.Decimal,
	mutate func(*domain.Wallet, decimal.Decimal) error,
) (*domain.Wallet, error) {
	if !m.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	stType := defaultType
	if m.Type != "" {
		if !m.Type.Valid() {
			return nil, fmt.Errorf("unknown statement type %q", m.Type)
		}
		stType = m.Type
	}

	var wallet *domain.Wallet
	err := a.within(ctx, tx, func(tx store.Tx) error {
		w, err := tx.WalletForUpdate(ctx, m.UserID)
		if err != nil {
			return err
		}
		if err := mutate(w, m.Amount); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}

		err = tx.AppendStatement(ctx, &domain.Statement{
			ID:          ulid.Make().String(),
			WalletID:    w.ID,
			Amount:      signed,
			Description: m.Description,
			Type:        stType,
			ReferenceID: m.ReferenceID,
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		balance, locked := w.Balance.String(), w.Locked.String()
		tx.AfterCommit(func() {
			a.metrics.LedgerMovement(op)
			a.logger.Info("wallet updated",
				"op", op,
				"user_id", m.UserID,
				"amount", m.Amount.String(),
				"type", stType,
				"reference_id", m.ReferenceID,
				"balance", balance,
				"locked", locked,
			)
		})
		wallet = w
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s for user %s: %w", op, m.UserID, err)
	}
	return wallet, nil
}

// GetWallet retrieves a user's wallet
func (a *Accounting) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return a.store.Wallet(ctx, userID)
}

// ListStatements lists a user's statement lines, newest first
func (a *Accounting) ListStatements(ctx context.Context, userID string, limit, offset int) ([]*domain.Statement, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	w, err := a.store.Wallet(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return a.store.Statements(ctx, w.ID, limit, offset)
}

// Reconciliation is the outcome of checking a wallet against its statements
type Reconciliation struct {
	UserID       string          `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	StatementSum decimal.Decimal `json:"statement_sum"`
	Difference   decimal.Decimal `json:"difference"`
	Balanced     bool            `json:"balanced"`
}

// ErrUnbalanced is returned with a Reconciliation whose trail does not add up
var ErrUnbalanced = errors.New("wallet does not reconcile with its statements")

// Reconcile checks that the statement trail explains the wallet. Reserved
// funds were debited in the trail at reserve time and are excluded.
func (a *Accounting) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	var rec *Reconciliation
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		w, err := tx.WalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := tx.StatementSum(ctx, w.ID)
		if err != nil {
			return err
		}
		diff, ok := w.Reconcile(sum)
		rec = &Reconciliation{
			UserID:       userID,
			Balance:      w.Balance,
			Locked:       w.Locked,
			StatementSum: sum,
			Difference:   diff,
			Balanced:     ok,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.Balanced {
		a.logger.Error("wallet reconciliation mismatch",
			"user_id", userID,
			"statement_sum", rec.StatementSum.String(),
			"balance", rec.Balance.String(),
			"locked", rec.Locked.String(),
			"difference", rec.Difference.String(),
		)
		return rec, ErrUnbalanced
	}
	return rec, nil
}
