package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// CanonicalEvent is the provider-agnostic representation of a webhook or
// success-callback payload. It is constructed per request and never
// persisted directly; the raw payload is written to the audit log instead.
type CanonicalEvent struct {
	Gateway         enums.GatewayName
	Type            enums.EventType
	ExternalEventID string
	SubscriptionID  string
	OrderReference  string
	TransactionID   string
	Amount          *decimal.Decimal
	CurrencyCode    string
	CustomerEmail   string
	OccurredAt      time.Time
	RawPayload      json.RawMessage

	// Verified reports that the payload's authenticity was established
	// by the gateway client (webhook signature or callback checksum).
	// Unverified events must be corroborated against the gateway's
	// transaction API before any state transition is applied.
	Verified bool
}

// IsUnknown reports whether the provider sent an event type we do not map.
// Unknown events are logged and acknowledged, never rejected, because
// providers retry on non-2xx responses.
func (e CanonicalEvent) IsUnknown() bool {
	return e.Type == enums.EventTypeUnknown
}

// HasSubscription reports whether the event carries a provider subscription id.
func (e CanonicalEvent) HasSubscription() bool {
	return e.SubscriptionID != ""
}
