package settings

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimal(t *testing.T) {
	ctx := context.Background()
	m := NewMap(map[string]string{
		KeyMinDeposit:    "5,50",
		KeyMinWithdrawal: "not-a-number",
	})
	def := decimal.NewFromInt(1)

	got, err := Decimal(ctx, m, KeyMinDeposit, def)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("5.5")))

	got, err = Decimal(ctx, m, KeyAutoApprovalLimit, def)
	require.NoError(t, err)
	assert.True(t, got.Equal(def))

	got, err = Decimal(ctx, m, KeyMinWithdrawal, def)
	assert.Error(t, err)
	assert.True(t, got.Equal(def))
}

func TestBool(t *testing.T) {
	ctx := context.Background()
	m := NewMap(nil)

	got, err := Bool(ctx, m, KeyRequireOwnDocument, true)
	require.NoError(t, err)
	assert.True(t, got)

	m.Set(KeyRequireOwnDocument, "false")
	got, err = Bool(ctx, m, KeyRequireOwnDocument, true)
	require.NoError(t, err)
	assert.False(t, got)

	m.Set(KeyRequireOwnDocument, "maybe")
	_, err = Bool(ctx, m, KeyRequireOwnDocument, true)
	assert.Error(t, err)
}

func TestNewMapCopiesInput(t *testing.T) {
	values := map[string]string{KeyMinDeposit: "1"}
	m := NewMap(values)
	values[KeyMinDeposit] = "100"

	v, ok, err := m.Lookup(context.Background(), KeyMinDeposit)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
