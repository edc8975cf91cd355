package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolao/internal/common/events"
)

func TestSubject(t *testing.T) {
	bet, err := events.NewEvent(events.EventBetPlaced, "pool", "pool_1", map[string]string{"bet_id": "bet_1"})
	require.NoError(t, err)
	assert.Equal(t, "events.bolao.bet.placed.pool_1", Subject(bet))

	cfg, err := events.NewEvent(events.EventAffiliateConfigUpdated, "affiliate_config", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "events.affiliate.config.updated", Subject(cfg))
}
