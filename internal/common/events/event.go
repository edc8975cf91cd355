package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID of the request that caused the event
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event types
const (
	EventBetPlaced              = "bolao.bet.placed"
	EventPaymentCompleted       = "payment.completed"
	EventPaymentFailed          = "payment.failed"
	EventAffiliateConfigUpdated = "affiliate.config.updated"
)

// Aggregate types
const (
	AggregatePool      = "pool"
	AggregatePayment   = "payment"
	AggregateAffiliate = "affiliate_config"
)

// BetPlacedData is the data for bolao.bet.placed events. The event is scoped
// to the pool, so every participant of the pool can be notified.
type BetPlacedData struct {
	BetID    string          `json:"bet_id"`
	PoolID   string          `json:"pool_id"`
	UserID   string          `json:"user_id"`
	Numbers  []int           `json:"numbers"`
	Price    decimal.Decimal `json:"price"`
	PlacedAt time.Time       `json:"placed_at"`
}

// PaymentSettledData is the data for payment.completed and payment.failed events
type PaymentSettledData struct {
	PaymentID  string          `json:"payment_id"`
	UserID     string          `json:"user_id"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	ProviderID string          `json:"provider_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	SettledAt  time.Time       `json:"settled_at"`
}
