package enums

import "fmt"

// EventType is the canonical, provider-agnostic classification of a
// webhook or success-callback payload. Unrecognized provider events map
// to EventTypeUnknown rather than failing the request; the orchestrator
// logs and no-ops those so the provider stops redelivering.
type EventType string

const (
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventTypeUnknown           EventType = "unknown"
)

var validEventTypes = []EventType{
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventSubscriptionCancelled,
	EventSubscriptionUpdated,
	EventTypeUnknown,
}

// String implements fmt.Stringer.
func (e EventType) String() string {
	return string(e)
}

// IsValid reports whether the value is known.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into an EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
