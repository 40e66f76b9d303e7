package enums

import "fmt"

// WebhookOutcome records how a received payload was ultimately handled
// in the audit log.
type WebhookOutcome string

const (
	WebhookOutcomeProcessed WebhookOutcome = "processed"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeIgnored   WebhookOutcome = "ignored"
	WebhookOutcomeFailed    WebhookOutcome = "failed"
)

var validWebhookOutcomes = []WebhookOutcome{
	WebhookOutcomeProcessed,
	WebhookOutcomeDuplicate,
	WebhookOutcomeIgnored,
	WebhookOutcomeFailed,
}

// String implements fmt.Stringer.
func (o WebhookOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is known.
func (o WebhookOutcome) IsValid() bool {
	for _, candidate := range validWebhookOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseWebhookOutcome converts raw input into a WebhookOutcome.
func ParseWebhookOutcome(value string) (WebhookOutcome, error) {
	for _, candidate := range validWebhookOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook outcome %q", value)
}
