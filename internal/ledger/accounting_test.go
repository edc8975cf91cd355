package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolao/internal/common/metrics"
	"bolao/internal/ledger"
	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store"
	"bolao/internal/ledger/store/memstore"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAccounting(t *testing.T) (*ledger.Accounting, *memstore.Store) {
	t.Helper()
	st := memstore.New(domain.AffiliateConfig{})
	return ledger.NewAccounting(st, nil, discardLogger()), st
}

func assertReconciles(t *testing.T, a *ledger.Accounting, userID string) {
	t.Helper()
	rec, err := a.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, rec.Balanced, "difference %s", rec.Difference)
}

func TestOpenWalletIsIdempotent(t *testing.T) {
	a, _ := newAccounting(t)
	ctx := context.Background()

	first, err := a.OpenWallet(ctx, nil, "alice")
	require.NoError(t, err)
	second, err := a.OpenWallet(ctx, nil, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Balance.IsZero())
}

func TestCreditAndDebitWriteOneStatementEach(t *testing.T) {
	a, st := newAccounting(t)
	ctx := context.Background()
	st.SeedWallet("alice", decimal.Zero)

	w, err := a.Credit(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("100"), Description: "Depósito PIX", ReferenceID: "pay_1"})
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("100")))

	w, err = a.Debit(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("25"), Description: "Aposta", ReferenceID: "pool_1"})
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("75")))

	statements := st.AllStatements("wal_alice")
	require.Len(t, statements, 2)
	assert.Equal(t, domain.StatementDeposit, statements[0].Type)
	assert.True(t, statements[0].Amount.Equal(dec("100")))
	assert.Equal(t, "pay_1", statements[0].ReferenceID)
	assert.Equal(t, domain.StatementWithdraw, statements[1].Type)
	assert.True(t, statements[1].Amount.Equal(dec("-25")))

	assertReconciles(t, a, "alice")
}

func TestCreditWithExplicitType(t *testing.T) {
	a, st := newAccounting(t)
	st.SeedWallet("alice", decimal.Zero)

	_, err := a.Credit(context.Background(), nil, ledger.Movement{UserID: "alice", Amount: dec("0.5"), Type: domain.StatementCommission})
	require.NoError(t, err)

	statements := st.AllStatements("wal_alice")
	require.Len(t, statements, 1)
	assert.Equal(t, domain.StatementCommission, statements[0].Type)

	_, err = a.Credit(context.Background(), nil, ledger.Movement{UserID: "alice", Amount: dec("1"), Type: "BONUS"})
	assert.Error(t, err)
	assert.Len(t, st.AllStatements("wal_alice"), 1)
}

func TestReserveThenRelease(t *testing.T) {
	a, st := newAccounting(t)
	ctx := context.Background()
	st.SeedWallet("alice", dec("100"))

	w, err := a.Reserve(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("50"), Description: "Saque via PIX"})
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("50")))
	assert.True(t, w.Locked.Equal(dec("50")))
	assertReconciles(t, a, "alice")

	w, err = a.Release(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("50"), Description: "Estorno de saque"})
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("100")))
	assert.True(t, w.Locked.IsZero())
	assertReconciles(t, a, "alice")

	statements := st.AllStatements("wal_alice")
	require.Len(t, statements, 3)
	assert.True(t, statements[1].Amount.Equal(dec("-50")))
	assert.Equal(t, domain.StatementWithdraw, statements[1].Type)
	assert.True(t, statements[2].Amount.Equal(dec("50")))
	assert.Equal(t, domain.StatementDeposit, statements[2].Type)
}

func TestFinalizeWithdrawWritesNoStatement(t *testing.T) {
	a, st := newAccounting(t)
	ctx := context.Background()
	st.SeedWallet("alice", dec("100"))

	_, err := a.Reserve(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("40")})
	require.NoError(t, err)
	before := len(st.AllStatements("wal_alice"))

	w, err := a.FinalizeWithdraw(ctx, nil, "alice", dec("40"))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("60")))
	assert.True(t, w.Locked.IsZero())
	assert.Len(t, st.AllStatements("wal_alice"), before)

	assertReconciles(t, a, "alice")
}

func TestFailedMovementsLeaveNoTrace(t *testing.T) {
	a, st := newAccounting(t)
	ctx := context.Background()
	st.SeedWallet("alice", dec("10"))

	_, err := a.Debit(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("10.01")})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = a.Reserve(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("11")})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = a.Release(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrInsufficientLockedFunds)

	_, err = a.FinalizeWithdraw(ctx, nil, "alice", dec("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientLockedFunds)

	_, err = a.Credit(ctx, nil, ledger.Movement{UserID: "alice", Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = a.Credit(ctx, nil, ledger.Movement{UserID: "nobody", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	w, err := a.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("10")))
	assert.True(t, w.Locked.IsZero())
	assert.Len(t, st.AllStatements("wal_alice"), 1)
}

func TestAmbientTransactionRollsBackEveryMovement(t *testing.T) {
	a, st := newAccounting(t)
	ctx := context.Background()
	st.SeedWallet("alice", dec("100"))
	st.SeedWallet("bob", decimal.Zero)

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx store.Tx) error {
		if _, err := a.Debit(ctx, tx, ledger.Movement{UserID: "alice", Amount: dec("30")}); err != nil {
			return err
		}
		if _, err := a.Credit(ctx, tx, ledger.Movement{UserID: "bob", Amount: dec("30")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	alice, err := a.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(dec("100")))
	bob, err := a.GetWallet(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Balance.IsZero())
	assert.Len(t, st.AllStatements("wal_alice"), 1)
	assert.Empty(t, st.AllStatements("wal_bob"))
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	a, st := newAccounting(t)
	ctx := context.Background()
	st.SeedWallet("alice", dec("50"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Debit(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("5")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	w, err := a.GetWallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.Len(t, st.AllStatements("wal_alice"), 11)
	assertReconciles(t, a, "alice")
}

func TestReconcileDetectsMismatch(t *testing.T) {
	a, st := newAccounting(t)
	ctx := context.Background()
	st.SeedWallet("alice", dec("100"))

	// A second seed overwrites the wallet and adds a second opening line,
	// so the trail now says 300 while the wallet holds 200.
	st.SeedWallet("alice", dec("200"))

	rec, err := a.Reconcile(ctx, "alice")
	require.ErrorIs(t, err, ledger.ErrUnbalanced)
	require.NotNil(t, rec)
	assert.False(t, rec.Balanced)
	assert.True(t, rec.Difference.Equal(dec("100")))
}

func TestListStatementsNewestFirst(t *testing.T) {
	a, st := newAccounting(t)
	ctx := context.Background()
	st.SeedWallet("alice", dec("100"))

	for _, ref := range []string{"a", "b", "c"} {
		_, err := a.Debit(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("1"), ReferenceID: ref})
		require.NoError(t, err)
	}

	statements, total, err := a.ListStatements(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, statements, 2)
	assert.Equal(t, "c", statements[0].ReferenceID)
	assert.Equal(t, "b", statements[1].ReferenceID)

	_, _, err = a.ListStatements(ctx, "nobody", 10, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMovementsAreCounted(t *testing.T) {
	st := memstore.New(domain.AffiliateConfig{})
	reg := prometheus.NewRegistry()
	a := ledger.NewAccounting(st, metrics.New(reg), discardLogger())
	ctx := context.Background()
	st.SeedWallet("alice", dec("100"))

	_, err := a.Reserve(ctx, nil, ledger.Movement{UserID: "alice", Amount: dec("10")})
	require.NoError(t, err)
	_, err = a.FinalizeWithdraw(ctx, nil, "alice", dec("10"))
	require.NoError(t, err)

	expected := `
# HELP bolao_ledger_movements_total Committed wallet mutations by operation
# TYPE bolao_ledger_movements_total counter
bolao_ledger_movements_total{op="finalize_withdraw"} 1
bolao_ledger_movements_total{op="reserve"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bolao_ledger_movements_total"))
}

func TestRolledBackMovementsAreNotCounted(t *testing.T) {
	st := memstore.New(domain.AffiliateConfig{})
	reg := prometheus.NewRegistry()
	a := ledger.NewAccounting(st, metrics.New(reg), discardLogger())
	ctx := context.Background()
	st.SeedWallet("alice", dec("100"))

	boom := errors.New("commission failed")
	err := st.WithTx(ctx, func(tx store.Tx) error {
		if _, err := a.Debit(ctx, tx, ledger.Movement{UserID: "alice", Amount: dec("25")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	count, err := testutil.GatherAndCount(reg, "bolao_ledger_movements_total")
	require.NoError(t, err)
	assert.Zero(t, count)

	err = st.WithTx(ctx, func(tx store.Tx) error {
		_, err := a.Debit(ctx, tx, ledger.Movement{UserID: "alice", Amount: dec("25")})
		return err
	})
	require.NoError(t, err)

	expected := `
# HELP bolao_ledger_movements_total Committed wallet mutations by operation
# TYPE bolao_ledger_movements_total counter
bolao_ledger_movements_total{op="debit"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bolao_ledger_movements_total"))
}
