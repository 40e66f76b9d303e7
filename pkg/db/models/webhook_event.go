package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// WebhookEvent is the audit row written for every received provider
// payload, recorded before any state transition is attempted.
type WebhookEvent struct {
	ID              uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Gateway         enums.GatewayName    `gorm:"column:gateway;type:gateway_name;not null;index"`
	EventType       enums.EventType      `gorm:"column:event_type;type:canonical_event_type;not null"`
	ExternalEventID string               `gorm:"column:external_event_id;not null;index"`
	SubscriptionID  *string              `gorm:"column:subscription_id"`
	OrderReference  *string              `gorm:"column:order_reference"`
	RawPayload      json.RawMessage      `gorm:"column:raw_payload;type:jsonb;not null"`
	Outcome         enums.WebhookOutcome `gorm:"column:outcome;type:webhook_outcome;not null;default:'processed'"`
	Error           *string              `gorm:"column:error"`
	ReceivedAt      time.Time            `gorm:"column:received_at;autoCreateTime"`
}
