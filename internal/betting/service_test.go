package betting_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bolao/internal/affiliate"
	"bolao/internal/betting"
	"bolao/internal/common/events"
	"bolao/internal/ledger"
	"bolao/internal/ledger/domain"
	"bolao/internal/ledger/store/memstore"
	"bolao/internal/transparency"
)

type mockPools struct {
	mock.Mock
}

func (m *mockPools) GetPool(ctx context.Context, poolID string) (*betting.Pool, error) {
	args := m.Called(ctx, poolID)
	p, _ := args.Get(0).(*betting.Pool)
	return p, args.Error(1)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) AppendBetRecord(ctx context.Context, poolID string, rec transparency.BetRecord) error {
	return m.Called(ctx, poolID, rec).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event *events.Event) error {
	return m.Called(ctx, event).Error(0)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var picked = []int{60, 1, 7, 13, 22, 35, 41, 48, 50, 9}

type fixture struct {
	store     *memstore.Store
	accounts  *ledger.Accounting
	pools     *mockPools
	sink      *mockSink
	publisher *mockPublisher
	service   *betting.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := memstore.New(domain.AffiliateConfig{
		FirstLevelPercent:  decimal.NewFromInt(2),
		SecondLevelPercent: decimal.NewFromInt(1),
		FirstBetBonus:      decimal.NewFromInt(10),
	})
	f := &fixture{
		store:     st,
		accounts:  ledger.NewAccounting(st, nil, logger),
		pools:     &mockPools{},
		sink:      &mockSink{},
		publisher: &mockPublisher{},
	}
	f.service = betting.NewService(st, f.accounts, f.pools, affiliate.NewCache(logger), f.sink, f.publisher, nil, logger)

	f.pools.On("GetPool", mock.Anything, "pool_1").Return(&betting.Pool{
		ID:          "pool_1",
		Name:        "Mega da Virada",
		TicketPrice: dec("25"),
		StartsAt:    time.Now().Add(-time.Hour),
	}, nil).Maybe()
	return f
}

func (f *fixture) expectPublishing() {
	f.sink.On("AppendBetRecord", mock.Anything, "pool_1", mock.AnythingOfType("transparency.BetRecord")).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e *events.Event) bool {
		return e.Type == events.EventBetPlaced && e.AggregateID == "pool_1"
	})).Return(nil)
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := f.accounts.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) assertReconciles(t *testing.T, userIDs ...string) {
	t.Helper()
	for _, id := range userIDs {
		rec, err := f.accounts.Reconcile(context.Background(), id)
		require.NoError(t, err, id)
		assert.True(t, rec.Balanced, id)
	}
}

func TestPlaceBetPaysTwoLevelsAndFirstBetBonus(t *testing.T) {
	f := newFixture(t)
	f.expectPublishing()
	f.store.SeedWallet("bettor", dec("100"))
	f.store.SeedWallet("r1", decimal.Zero)
	f.store.SeedWallet("r2", decimal.Zero)
	f.store.SeedReferral("r1", "bettor")
	f.store.SeedReferral("r2", "r1")

	receipt, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{
		PoolID:  "pool_1",
		UserID:  "bettor",
		Numbers: picked,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 7, 9, 13, 22, 35, 41, 48, 50, 60}, receipt.Bet.Numbers)
	assert.True(t, receipt.Balance.Equal(dec("75")))
	require.Len(t, receipt.Commissions, 3)
	assert.Equal(t, betting.CommissionLevel1, receipt.Commissions[0].Kind)
	assert.Equal(t, betting.CommissionLevel2, receipt.Commissions[1].Kind)
	assert.Equal(t, betting.CommissionFirstBet, receipt.Commissions[2].Kind)

	assert.True(t, f.balance(t, "bettor").Equal(dec("75")))
	assert.True(t, f.balance(t, "r1").Equal(dec("10.5")))
	assert.True(t, f.balance(t, "r2").Equal(dec("0.25")))

	r1 := f.store.AllStatements("wal_r1")
	require.Len(t, r1, 2)
	for _, st := range r1 {
		assert.Equal(t, domain.StatementCommission, st.Type)
		assert.Equal(t, receipt.Bet.ID, st.ReferenceID)
	}
	assert.True(t, r1[0].Amount.Equal(dec("0.5")))
	assert.True(t, r1[1].Amount.Equal(dec("10")))

	bettor := f.store.AllStatements("wal_bettor")
	require.Len(t, bettor, 2)
	assert.True(t, bettor[1].Amount.Equal(dec("-25")))
	assert.Equal(t, "pool_1", bettor[1].ReferenceID)
	assert.Equal(t, "Aposta no bolão Mega da Virada", bettor[1].Description)

	require.Len(t, f.store.Bets(), 1)
	f.assertReconciles(t, "bettor", "r1", "r2")
	f.sink.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestSecondBetHasNoBonus(t *testing.T) {
	f := newFixture(t)
	f.expectPublishing()
	f.store.SeedWallet("bettor", dec("100"))
	f.store.SeedWallet("r1", decimal.Zero)
	f.store.SeedReferral("r1", "bettor")

	for i := 0; i < 2; i++ {
		_, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", Numbers: picked})
		require.NoError(t, err)
	}

	assert.True(t, f.balance(t, "bettor").Equal(dec("50")))
	assert.True(t, f.balance(t, "r1").Equal(dec("11")))
	assert.Len(t, f.store.Bets(), 2)
	f.assertReconciles(t, "bettor", "r1")
}

func TestBetWithoutReferrerPaysNothing(t *testing.T) {
	f := newFixture(t)
	f.expectPublishing()
	f.store.SeedWallet("bettor", dec("25"))

	receipt, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", Numbers: picked})
	require.NoError(t, err)
	assert.Empty(t, receipt.Commissions)
	assert.True(t, f.balance(t, "bettor").IsZero())
}

func TestSelfReferralIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.expectPublishing()
	f.store.SeedWallet("bettor", dec("100"))
	f.store.SeedReferral("bettor", "bettor")

	receipt, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", Numbers: picked})
	require.NoError(t, err)
	assert.Empty(t, receipt.Commissions)
	assert.True(t, f.balance(t, "bettor").Equal(dec("75")))
}

func TestReferralCycleSkipsSecondLevel(t *testing.T) {
	f := newFixture(t)
	f.expectPublishing()
	f.store.SeedWallet("bettor", dec("100"))
	f.store.SeedWallet("r1", decimal.Zero)
	f.store.SeedReferral("r1", "bettor")
	f.store.SeedReferral("bettor", "r1")

	receipt, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", Numbers: picked})
	require.NoError(t, err)
	require.Len(t, receipt.Commissions, 2)
	assert.True(t, f.balance(t, "bettor").Equal(dec("75")))
	assert.True(t, f.balance(t, "r1").Equal(dec("10.5")))
}

func TestFailedCommissionRollsBackTheWholeBet(t *testing.T) {
	f := newFixture(t)
	f.store.SeedWallet("bettor", dec("100"))
	f.store.SeedWallet("r1", decimal.Zero)
	f.store.SeedReferral("r1", "bettor")
	// r2 has no wallet, so the level-2 credit fails after the debit, the
	// bet row and the level-1 credit were written.
	f.store.SeedReferral("r2", "r1")

	_, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", Numbers: picked})
	require.ErrorIs(t, err, domain.ErrNotFound)

	assert.True(t, f.balance(t, "bettor").Equal(dec("100")))
	assert.True(t, f.balance(t, "r1").IsZero())
	assert.Empty(t, f.store.Bets())
	assert.Len(t, f.store.AllStatements("wal_bettor"), 1)
	assert.Empty(t, f.store.AllStatements("wal_r1"))
	f.sink.AssertNotCalled(t, "AppendBetRecord", mock.Anything, mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.store.SeedWallet("bettor", dec("24.99"))

	_, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", Numbers: picked})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, domain.IsUserError(err))
	assert.Empty(t, f.store.Bets())
	assert.True(t, f.balance(t, "bettor").Equal(dec("24.99")))
}

func TestClosedPool(t *testing.T) {
	f := newFixture(t)
	closed := time.Now().Add(-time.Minute)
	f.pools.On("GetPool", mock.Anything, "pool_closed").Return(&betting.Pool{
		ID:          "pool_closed",
		TicketPrice: dec("25"),
		ClosedAt:    &closed,
	}, nil)
	f.store.SeedWallet("bettor", dec("100"))

	_, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_closed", UserID: "bettor", Numbers: picked})
	require.ErrorIs(t, err, domain.ErrClosed)
	assert.True(t, f.balance(t, "bettor").Equal(dec("100")))
}

func TestUnknownPool(t *testing.T) {
	f := newFixture(t)
	f.pools.On("GetPool", mock.Anything, "nope").Return(nil, domain.ErrNotFound)

	_, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "nope", UserID: "bettor", Numbers: picked})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvalidNumbersAreRejectedBeforeDebit(t *testing.T) {
	f := newFixture(t)
	f.store.SeedWallet("bettor", dec("100"))

	_, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", Numbers: []int{1, 2, 3}})
	require.ErrorIs(t, err, domain.ErrInvalidNumbers)
	assert.True(t, f.balance(t, "bettor").Equal(dec("100")))
}

func TestAutoPick(t *testing.T) {
	f := newFixture(t)
	f.expectPublishing()
	f.store.SeedWallet("bettor", dec("100"))

	receipt, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", AutoPick: true})
	require.NoError(t, err)

	_, err = betting.NormalizeNumbers(receipt.Bet.Numbers)
	assert.NoError(t, err)
	assert.IsNonDecreasing(t, receipt.Bet.Numbers)
}

func TestPublishingFailuresDoNotUndoTheBet(t *testing.T) {
	f := newFixture(t)
	f.sink.On("AppendBetRecord", mock.Anything, "pool_1", mock.Anything).Return(errors.New("redis down"))
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats down"))
	f.store.SeedWallet("bettor", dec("100"))

	receipt, err := f.service.PlaceBet(context.Background(), betting.PlaceBetRequest{PoolID: "pool_1", UserID: "bettor", Numbers: picked})
	require.NoError(t, err)
	require.NotNil(t, receipt)

	assert.Len(t, f.store.Bets(), 1)
	assert.True(t, f.balance(t, "bettor").Equal(dec("75")))
	f.sink.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}
