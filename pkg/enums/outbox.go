package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregateUser         OutboxAggregateType = "user"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateSubscription,
	AggregateUser,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPaymentFailureNotice   OutboxEventType = "payment_failure_notice"
	EventProvisioningRetry      OutboxEventType = "provisioning_retry"
	EventEntitlementActivated   OutboxEventType = "entitlement_activated"
	EventSubscriptionTerminated OutboxEventType = "subscription_terminated"
	EventAffiliateConversion    OutboxEventType = "affiliate_conversion"
	EventCancellationExitSurvey OutboxEventType = "cancellation_exit_survey"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentFailureNotice,
	EventProvisioningRetry,
	EventEntitlementActivated,
	EventSubscriptionTerminated,
	EventAffiliateConversion,
	EventCancellationExitSurvey,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxStatus tracks publication state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
	OutboxStatusTerminal  OutboxStatus = "terminal"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusPublished,
	OutboxStatusFailed,
	OutboxStatusTerminal,
}

// IsValid reports whether the value is known.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
