package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// Order records one checkout attempt and its outcome. Rows are
// append-only: status moves pending -> completed|failed and then never
// changes again.
type Order struct {
	ID                     uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	PackageID              uuid.UUID         `gorm:"column:package_id;type:uuid;not null"`
	Gateway                enums.GatewayName `gorm:"column:gateway;type:gateway_name;not null"`
	Amount                 decimal.Decimal   `gorm:"column:amount;type:numeric(12,2);not null"`
	CurrencyCode           string            `gorm:"column:currency_code;not null"`
	Status                 enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	ExternalTransactionID  *string           `gorm:"column:external_transaction_id;uniqueIndex"`
	ExternalSubscriptionID *string           `gorm:"column:external_subscription_id;index"`
	CheckoutReference      string            `gorm:"column:checkout_reference;not null;uniqueIndex"`
	CompletedAt            *time.Time        `gorm:"column:completed_at"`
	FailedAt               *time.Time        `gorm:"column:failed_at"`
	CreatedAt              time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
