package suitpay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "webhook-secret"

func signedCashIn() *CashInWebhook {
	wh := &CashInWebhook{
		IDTransaction:     "tx-1",
		TypeTransaction:   "PIX",
		StatusTransaction: StatusPaidOut,
		Value:             json.Number("25.50"),
		PayerName:         "Maria",
		PayerTaxID:        "12345678909",
		PaymentDate:       "15/10/2026 10:00:00",
		PaymentCode:       "000201",
		RequestNumber:     "req-1",
	}
	wh.Hash = Sign(wh.Fields(), testSecret)
	return wh
}

func TestSignMatchesConcatenation(t *testing.T) {
	sum := sha256.Sum256([]byte("ab" + "c" + testSecret))
	assert.Equal(t, hex.EncodeToString(sum[:]), Sign([]string{"ab", "c"}, testSecret))
}

func TestCashInVerify(t *testing.T) {
	wh := signedCashIn()
	assert.True(t, wh.Verify(testSecret))

	wh.Hash = strings.ToUpper(wh.Hash)
	assert.True(t, wh.Verify(testSecret), "hash comparison ignores case")

	assert.False(t, wh.Verify("other-secret"))
	assert.False(t, wh.Verify(""))
}

func TestCashInTamperedFieldFails(t *testing.T) {
	wh := signedCashIn()
	wh.Value = json.Number("2550.00")
	assert.False(t, wh.Verify(testSecret))

	wh = signedCashIn()
	wh.StatusTransaction = StatusChargeback
	assert.False(t, wh.Verify(testSecret))
}

func TestMissingHashFails(t *testing.T) {
	wh := signedCashIn()
	wh.Hash = ""
	assert.False(t, wh.Verify(testSecret))
}

func TestCashOutVerify(t *testing.T) {
	wh := &CashOutWebhook{
		IDTransaction:     "payout-1",
		TypeTransaction:   "PIX_CASHOUT",
		StatusTransaction: StatusPaidOut,
		Value:             json.Number("50"),
		DestinationName:   "Maria",
		DestinationTaxID:  "12345678909",
		DestinationBank:   "260",
		PaymentDate:       "15/10/2026 10:00:00",
		RequestNumber:     "ext-1",
	}
	wh.Hash = Sign(wh.Fields(), testSecret)
	assert.True(t, wh.Verify(testSecret))

	wh.DestinationTaxID = "00000000000"
	assert.False(t, wh.Verify(testSecret))
}

func TestValueKeepsProviderFormatting(t *testing.T) {
	// The hash covers the value exactly as sent, so it must not be
	// re-rendered through a float.
	var wh CashInWebhook
	dec := json.NewDecoder(strings.NewReader(`{"idTransaction":"tx-1","value":25.50,"hash":"x"}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&wh))
	assert.Equal(t, "25.50", wh.Value.String())
}
