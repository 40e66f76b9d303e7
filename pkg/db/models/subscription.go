package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// Subscription persists canonical subscription state per user. The
// gateway column must always match the provider that issued
// ProviderSubscriptionID.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	Gateway                enums.GatewayName        `gorm:"column:gateway;type:gateway_name;not null"`
	ProviderSubscriptionID string                   `gorm:"column:provider_subscription_id;not null;uniqueIndex"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	PackageID              uuid.UUID                `gorm:"column:package_id;type:uuid;not null"`
	CurrentPeriodStart     *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd       *time.Time               `gorm:"column:current_period_end"`
	CancelReason           *string                  `gorm:"column:cancel_reason"`
	CancelledAt            *time.Time               `gorm:"column:cancelled_at"`
	CancelEffectiveAt      *time.Time               `gorm:"column:cancel_effective_at"`
	Metadata               json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
