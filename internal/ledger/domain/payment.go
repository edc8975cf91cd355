package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentType is the direction of an external money movement
type PaymentType string

const (
	PaymentDeposit  PaymentType = "DEPOSIT"
	PaymentWithdraw PaymentType = "WITHDRAW"
)

// PaymentStatus is the state of a payment in its settlement lifecycle
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCanceled   PaymentStatus = "CANCELED"
)

// ProviderSuitPay is the only PSP currently wired
const ProviderSuitPay = "SUITPAY"

// Metadata keys written by the settlement state machine
const (
	MetaPaymentCode         = "payment_code"
	MetaPaymentCodeBase64   = "payment_code_base64"
	MetaPixKey              = "pix_key"
	MetaPixKeyType          = "pix_key_type"
	MetaDocumentValidation  = "document_validation"
	MetaError               = "error"
	MetaFailureReason       = "failure_reason"
	MetaCompletedBy         = "completed_by"
	MetaDispatchRequestedAt = "dispatch_requested_at"
	MetaDispatchAttempts    = "dispatch_attempts"
	MetaDispatchError       = "dispatch_error"
	MetaDispatchedAt        = "dispatched_at"
	MetaReviewRequired      = "review_required"
)

// Payment is an external money-movement intent settled through the PSP
type Payment struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Type        PaymentType       `json:"type"`
	Status      PaymentStatus     `json:"status"`
	Amount      decimal.Decimal   `json:"amount"`
	Provider    string            `json:"provider"`
	ProviderID  string            `json:"provider_id,omitempty"`
	ExternalID  string            `json:"external_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ReceiptPath string            `json:"receipt_path,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewDeposit creates a deposit waiting for the PIX charge to be paid
func NewDeposit(id, userID, externalID string, amount decimal.Decimal) (*Payment, error) {
	return newPayment(id, userID, externalID, PaymentDeposit, PaymentPending, amount)
}

// NewWithdrawal creates a withdrawal whose funds are about to be reserved
func NewWithdrawal(id, userID, externalID string, amount decimal.Decimal) (*Payment, error) {
	return newPayment(id, userID, externalID, PaymentWithdraw, PaymentProcessing, amount)
}

func newPayment(id, userID, externalID string, typ PaymentType, status PaymentStatus, amount decimal.Decimal) (*Payment, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if externalID == "" {
		return nil, errors.New("external_id is required")
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &Payment{
		ID:         id,
		UserID:     userID,
		Type:       typ,
		Status:     status,
		Amount:     amount,
		Provider:   ProviderSuitPay,
		ExternalID: externalID,
		Metadata:   make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

var transitions = map[PaymentType]map[PaymentStatus][]PaymentStatus{
	PaymentDeposit: {
		PaymentPending: {PaymentCompleted, PaymentFailed},
	},
	PaymentWithdraw: {
		PaymentProcessing: {PaymentCompleted, PaymentFailed, PaymentCanceled},
	},
}

// CanTransition reports whether the payment may move to the given status
func (p *Payment) CanTransition(to PaymentStatus) bool {
	for _, next := range transitions[p.Type][p.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the payment to a new status, guarded by its current status.
func (p *Payment) Transition(to PaymentStatus) error {
	if p.IsTerminal() {
		return ErrAlreadySettled
	}
	if !p.CanTransition(to) {
		return ErrInvalidTransition
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal returns true if no further transition is possible
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentFailed || p.Status == PaymentCanceled
}

// SetMeta records an audit value on the payment
func (p *Payment) SetMeta(key, value string) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[key] = value
	p.UpdatedAt = time.Now().UTC()
}

// Meta returns a metadata value or the empty string
func (p *Payment) Meta(key string) string {
	return p.Metadata[key]
}

// Clone returns a deep copy, so the metadata map is not shared
func (p *Payment) Clone() *Payment {
	c := *p
	c.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		c.Metadata[k] = v
	}
	return &c
}
