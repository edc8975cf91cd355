package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestWallet(t *testing.T, balance string) *Wallet {
	t.Helper()
	w, err := NewWallet("wal_1", "user_1")
	require.NoError(t, err)
	if balance != "0" {
		require.NoError(t, w.Credit(dec(balance)))
	}
	return w
}

func TestNewWallet(t *testing.T) {
	w, err := NewWallet("wal_1", "user_1")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.Locked.IsZero())

	_, err = NewWallet("", "user_1")
	assert.Error(t, err)
	_, err = NewWallet("wal_1", "")
	assert.Error(t, err)
}

func TestWalletRejectsNonPositiveAmounts(t *testing.T) {
	w := newTestWallet(t, "100")

	for _, amount := range []decimal.Decimal{decimal.Zero, dec("-1")} {
		assert.ErrorIs(t, w.Credit(amount), ErrInvalidAmount)
		assert.ErrorIs(t, w.Debit(amount), ErrInvalidAmount)
		assert.ErrorIs(t, w.Reserve(amount), ErrInvalidAmount)
		assert.ErrorIs(t, w.Release(amount), ErrInvalidAmount)
		assert.ErrorIs(t, w.FinalizeWithdraw(amount), ErrInvalidAmount)
	}
	assert.True(t, w.Balance.Equal(dec("100")))
}

func TestWalletDebit(t *testing.T) {
	w := newTestWallet(t, "30")

	require.NoError(t, w.Debit(dec("25")))
	assert.True(t, w.Balance.Equal(dec("5")))

	assert.ErrorIs(t, w.Debit(dec("5.01")), ErrInsufficientFunds)
	assert.True(t, w.Balance.Equal(dec("5")), "failed debit leaves balance untouched")
}

func TestWalletReserveRelease(t *testing.T) {
	w := newTestWallet(t, "100")

	require.NoError(t, w.Reserve(dec("50")))
	assert.True(t, w.Balance.Equal(dec("50")))
	assert.True(t, w.Locked.Equal(dec("50")))

	require.NoError(t, w.Release(dec("50")))
	assert.True(t, w.Balance.Equal(dec("100")))
	assert.True(t, w.Locked.IsZero())
}

func TestWalletReserveInsufficient(t *testing.T) {
	w := newTestWallet(t, "10")

	assert.ErrorIs(t, w.Reserve(dec("10.01")), ErrInsufficientFunds)
	assert.True(t, w.Locked.IsZero())
}

func TestWalletReleaseMoreThanLocked(t *testing.T) {
	w := newTestWallet(t, "100")
	require.NoError(t, w.Reserve(dec("20")))

	assert.ErrorIs(t, w.Release(dec("20.01")), ErrInsufficientLockedFunds)
	assert.ErrorIs(t, w.FinalizeWithdraw(dec("21")), ErrInsufficientLockedFunds)
	assert.True(t, w.Locked.Equal(dec("20")))
}

func TestWalletFinalizeWithdraw(t *testing.T) {
	w := newTestWallet(t, "100")
	require.NoError(t, w.Reserve(dec("40")))

	require.NoError(t, w.FinalizeWithdraw(dec("40")))
	assert.True(t, w.Balance.Equal(dec("60")))
	assert.True(t, w.Locked.IsZero())
	assert.NoError(t, w.Validate())
}

func TestWalletValidate(t *testing.T) {
	w := newTestWallet(t, "0")
	assert.NoError(t, w.Validate())

	w.Balance = dec("-0.01")
	assert.Error(t, w.Validate())

	w.Balance = decimal.Zero
	w.Locked = dec("-1")
	assert.Error(t, w.Validate())
}

func TestWalletReconcile(t *testing.T) {
	w := newTestWallet(t, "100")
	require.NoError(t, w.Reserve(dec("30")))

	// Trail: +100 deposit, -30 withdraw reservation
	diff, ok := w.Reconcile(dec("70"))
	assert.True(t, ok)
	assert.True(t, diff.IsZero())

	diff, ok = w.Reconcile(dec("100"))
	assert.False(t, ok)
	assert.True(t, diff.Equal(dec("30")))
}

func TestSumStatements(t *testing.T) {
	sum := SumStatements([]*Statement{
		{Amount: dec("100")},
		{Amount: dec("-25")},
		{Amount: dec("0.50")},
	})
	assert.True(t, sum.Equal(dec("75.5")))
	assert.True(t, SumStatements(nil).IsZero())
}

func TestStatementTypeValid(t *testing.T) {
	assert.True(t, StatementDeposit.Valid())
	assert.True(t, StatementCommission.Valid())
	assert.False(t, StatementType("BONUS").Valid())
}
