package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// PaymentFailureNoticeEvent tells downstream systems to alert the user
// about a failed charge.
type PaymentFailureNoticeEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	UserID         uuid.UUID         `json:"user_id"`
	Gateway        enums.GatewayName `json:"gateway"`
	SubscriptionID *string           `json:"subscription_id,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	FailedAt       time.Time         `json:"failed_at"`
}

// ProvisioningRetryEvent requests a replay of a provisioning step that
// failed after the payment itself succeeded.
type ProvisioningRetryEvent struct {
	UserID  uuid.UUID `json:"user_id"`
	OrderID uuid.UUID `json:"order_id"`
	Step    string    `json:"step"`
	Error   string    `json:"error,omitempty"`
}

// EntitlementActivatedEvent surfaces a newly activated subscription so
// consumers can unlock features.
type EntitlementActivatedEvent struct {
	SubscriptionID uuid.UUID         `json:"subscription_id"`
	UserID         uuid.UUID         `json:"user_id"`
	PackageID      uuid.UUID         `json:"package_id"`
	Gateway        enums.GatewayName `json:"gateway"`
	TenantID       *string           `json:"tenant_id,omitempty"`
	ActivatedAt    time.Time         `json:"activated_at"`
}

// SubscriptionTerminatedEvent is emitted when a subscription reaches the
// cancelled state, whether user-initiated or provider-initiated.
type SubscriptionTerminatedEvent struct {
	SubscriptionID uuid.UUID         `json:"subscription_id"`
	UserID         uuid.UUID         `json:"user_id"`
	Gateway        enums.GatewayName `json:"gateway"`
	Reason         string            `json:"reason,omitempty"`
	EffectiveAt    *time.Time        `json:"effective_at,omitempty"`
	CancelledAt    time.Time         `json:"cancelled_at"`
}

// AffiliateConversionEvent reports a first successful payment attributed
// to an affiliate reference.
type AffiliateConversionEvent struct {
	OrderID      uuid.UUID         `json:"order_id"`
	UserID       uuid.UUID         `json:"user_id"`
	Gateway      enums.GatewayName `json:"gateway"`
	AffiliateRef string            `json:"affiliate_ref"`
	AmountCents  int64             `json:"amount_cents"`
	CurrencyCode string            `json:"currency_code"`
}

// CancellationExitSurveyEvent asks the notification pipeline to send the
// exit survey after a user-initiated cancellation.
type CancellationExitSurveyEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	Email          string    `json:"email"`
	Reason         string    `json:"reason,omitempty"`
}
