package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementType classifies a wallet statement line
type StatementType string

const (
	StatementDeposit    StatementType = "DEPOSIT"
	StatementWithdraw   StatementType = "WITHDRAW"
	StatementCommission StatementType = "COMMISSION"
	StatementPrize      StatementType = "PRIZE"
)

// Valid reports whether t is a known statement type
func (t StatementType) Valid() bool {
	switch t {
	case StatementDeposit, StatementWithdraw, StatementCommission, StatementPrize:
		return true
	}
	return false
}

// Statement is an immutable ledger line. Positive amounts are credits.
type Statement struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"wallet_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Type        StatementType   `json:"type"`
	ReferenceID string          `json:"reference_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SumStatements adds up the signed amounts of a statement trail
func SumStatements(statements []*Statement) decimal.Decimal {
	sum := decimal.Zero
	for _, st := range statements {
		sum = sum.Add(st.Amount)
	}
	return sum
}
