package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's spendable balance and the funds locked by pending withdrawals.
// Balance and Locked live on the same row so that one row lock covers both.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Locked    decimal.Decimal `json:"locked"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewWallet creates an empty wallet for a user
func NewWallet(id, userID string) (*Wallet, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if userID == "" {
		return nil, errors.New("user_id is required")
	}

	now := time.Now().UTC()
	return &Wallet{
		ID:        id,
		UserID:    userID,
		Balance:   decimal.Zero,
		Locked:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Credit adds amount to the spendable balance
func (w *Wallet) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	w.Balance = w.Balance.Add(amount)
	w.touch()
	return nil
}

// Debit removes amount from the spendable balance
func (w *Wallet) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.touch()
	return nil
}

// Reserve moves amount from balance to locked
func (w *Wallet) Reserve(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	w.touch()
	return nil
}

// Release moves amount from locked back to balance
func (w *Wallet) Release(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Locked.LessThan(amount) {
		return ErrInsufficientLockedFunds
	}
	w.Locked = w.Locked.Sub(amount)
	w.Balance = w.Balance.Add(amount)
	w.touch()
	return nil
}

// FinalizeWithdraw burns locked funds once the payout has left the system
func (w *Wallet) FinalizeWithdraw(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Locked.LessThan(amount) {
		return ErrInsufficientLockedFunds
	}
	w.Locked = w.Locked.Sub(amount)
	w.touch()
	return nil
}

// Validate checks the balance and locked invariants
func (w *Wallet) Validate() error {
	if w.Balance.IsNegative() {
		return errors.New("wallet balance is negative")
	}
	if w.Locked.IsNegative() {
		return errors.New("wallet locked amount is negative")
	}
	return nil
}

// Reconcile compares the statement trail against the wallet. Reserved funds
// were debited in the trail at reserve time, so the sum must equal balance.
func (w *Wallet) Reconcile(statementSum decimal.Decimal) (decimal.Decimal, bool) {
	expected := w.Balance
	diff := statementSum.Sub(expected)
	return diff, diff.IsZero()
}

func (w *Wallet) touch() {
	w.UpdatedAt = time.Now().UTC()
}
