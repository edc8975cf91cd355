package suitpay

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Webhook statuses
const (
	StatusPaidOut    = "PAID_OUT"
	StatusChargeback = "CHARGEBACK"
	StatusCanceled   = "CANCELED"
)

// CashInWebhook is the callback for a PIX charge
type CashInWebhook struct {
	IDTransaction     string      `json:"idTransaction"`
	TypeTransaction   string      `json:"typeTransaction"`
	StatusTransaction string      `json:"statusTransaction"`
	Value             json.Number `json:"value"`
	PayerName         string      `json:"payerName"`
	PayerTaxID        string      `json:"payerTaxId"`
	PaymentDate       string      `json:"paymentDate"`
	PaymentCode       string      `json:"paymentCode"`
	RequestNumber     string      `json:"requestNumber"`
	Hash              string      `json:"hash"`
}

// Fields returns the signed fields in signing order
func (w *CashInWebhook) Fields() []string {
	return []string{
		w.IDTransaction,
		w.TypeTransaction,
		w.StatusTransaction,
		w.Value.String(),
		w.PayerName,
		w.PayerTaxID,
		w.PaymentDate,
		w.PaymentCode,
		w.RequestNumber,
	}
}

// Verify checks the callback hash against secret
func (w *CashInWebhook) Verify(secret string) bool {
	return verify(w.Fields(), secret, w.Hash)
}

// CashOutWebhook is the callback for a PIX payout
type CashOutWebhook struct {
	IDTransaction     string      `json:"idTransaction"`
	TypeTransaction   string      `json:"typeTransaction"`
	StatusTransaction string      `json:"statusTransaction"`
	Value             json.Number `json:"value"`
	DestinationName   string      `json:"destinationName"`
	DestinationTaxID  string      `json:"destinationTaxId"`
	DestinationBank   string      `json:"destinationBank"`
	PaymentDate       string      `json:"paymentDate"`
	RequestNumber     string      `json:"requestNumber"`
	Hash              string      `json:"hash"`
}

// Fields returns the signed fields in signing order
func (w *CashOutWebhook) Fields() []string {
	return []string{
		w.IDTransaction,
		w.TypeTransaction,
		w.StatusTransaction,
		w.Value.String(),
		w.DestinationName,
		w.DestinationTaxID,
		w.DestinationBank,
		w.PaymentDate,
		w.RequestNumber,
	}
}

// Verify checks the callback hash against secret
func (w *CashOutWebhook) Verify(secret string) bool {
	return verify(w.Fields(), secret, w.Hash)
}

// Sign computes the lowercase hex SHA-256 of the concatenated fields
// followed by secret.
func Sign(fields []string, secret string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
	}
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

func verify(fields []string, secret, hash string) bool {
	if hash == "" || secret == "" {
		return false
	}
	want := Sign(fields, secret)
	got := strings.ToLower(strings.TrimSpace(hash))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
