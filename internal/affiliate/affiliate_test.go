package affiliate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolao/internal/common/events"
	"bolao/internal/ledger/domain"
)

func countingLoader(calls *int, pct string) Loader {
	return func(context.Context) (*domain.AffiliateConfig, error) {
		*calls++
		return &domain.AffiliateConfig{
			FirstLevelPercent:  decimal.RequireFromString(pct),
			SecondLevelPercent: decimal.NewFromInt(1),
			FirstBetBonus:      decimal.NewFromInt(10),
		}, nil
	}
}

func newTestCache() *Cache {
	return NewCache(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDefaultsConfig(t *testing.T) {
	cfg, err := Defaults{FirstLevelPercent: "2", SecondLevelPercent: "1", FirstBetBonus: "10"}.Config()
	require.NoError(t, err)
	assert.True(t, cfg.FirstLevelPercent.Equal(decimal.NewFromInt(2)))
	assert.True(t, cfg.SecondLevelPercent.Equal(decimal.NewFromInt(1)))
	assert.True(t, cfg.FirstBetBonus.Equal(decimal.NewFromInt(10)))

	_, err = Defaults{FirstLevelPercent: "x", SecondLevelPercent: "1", FirstBetBonus: "10"}.Config()
	assert.Error(t, err)
}

func TestCacheLoadsOnce(t *testing.T) {
	c := newTestCache()
	calls := 0
	load := countingLoader(&calls, "2")

	for i := 0; i < 3; i++ {
		cfg, err := c.Get(context.Background(), load)
		require.NoError(t, err)
		assert.True(t, cfg.FirstLevelPercent.Equal(decimal.NewFromInt(2)))
	}
	assert.Equal(t, 1, calls)
}

func TestCacheReturnsCopies(t *testing.T) {
	c := newTestCache()
	calls := 0

	cfg, err := c.Get(context.Background(), countingLoader(&calls, "2"))
	require.NoError(t, err)
	cfg.FirstLevelPercent = decimal.NewFromInt(99)

	again, err := c.Get(context.Background(), countingLoader(&calls, "2"))
	require.NoError(t, err)
	assert.True(t, again.FirstLevelPercent.Equal(decimal.NewFromInt(2)))
}

func TestCacheInvalidate(t *testing.T) {
	c := newTestCache()
	calls := 0

	_, err := c.Get(context.Background(), countingLoader(&calls, "2"))
	require.NoError(t, err)

	c.Invalidate()

	cfg, err := c.Get(context.Background(), countingLoader(&calls, "3"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, cfg.FirstLevelPercent.Equal(decimal.NewFromInt(3)))
}

func TestCacheDoesNotStoreLoadRacingInvalidate(t *testing.T) {
	c := newTestCache()

	stale := func(context.Context) (*domain.AffiliateConfig, error) {
		// The configuration changes while this load is in flight.
		c.Invalidate()
		return &domain.AffiliateConfig{FirstLevelPercent: decimal.NewFromInt(2)}, nil
	}
	_, err := c.Get(context.Background(), stale)
	require.NoError(t, err)

	calls := 0
	cfg, err := c.Get(context.Background(), countingLoader(&calls, "5"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, cfg.FirstLevelPercent.Equal(decimal.NewFromInt(5)))
}

func TestCacheLoadErrorIsNotCached(t *testing.T) {
	c := newTestCache()
	boom := errors.New("db down")

	_, err := c.Get(context.Background(), func(context.Context) (*domain.AffiliateConfig, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	calls := 0
	_, err = c.Get(context.Background(), countingLoader(&calls, "2"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHandleEvent(t *testing.T) {
	c := newTestCache()
	calls := 0
	_, err := c.Get(context.Background(), countingLoader(&calls, "2"))
	require.NoError(t, err)

	other, err := events.NewEvent(events.EventBetPlaced, events.AggregatePool, "pool_1", struct{}{})
	require.NoError(t, err)
	require.NoError(t, c.HandleEvent(context.Background(), other))
	_, err = c.Get(context.Background(), countingLoader(&calls, "2"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	updated, err := events.NewEvent(events.EventAffiliateConfigUpdated, events.AggregateAffiliate, "config", struct{}{})
	require.NoError(t, err)
	require.NoError(t, c.HandleEvent(context.Background(), updated))
	_, err = c.Get(context.Background(), countingLoader(&calls, "2"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
