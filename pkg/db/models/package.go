package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// Package is a priced plan. Rows are immutable once referenced by an
// Order; new pricing means a new row.
type Package struct {
	ID           uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string                `gorm:"column:name;not null"`
	PriceAmount  decimal.Decimal       `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode string                `gorm:"column:currency_code;not null;default:'USD'"`
	Interval     enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null"`
	Features     pq.StringArray        `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	// ProductIDs maps gateway name to the provider-specific product or
	// price identifier, e.g. {"paddle":"pri_123","fastspring":"pro-plan"}.
	ProductIDs json.RawMessage `gorm:"column:product_ids;type:jsonb;not null"`
	Active     bool            `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// ProductIDFor returns the provider product id configured for the given
// gateway, or "" when the pair is not mapped.
func (p *Package) ProductIDFor(gateway enums.GatewayName) string {
	if p == nil || len(p.ProductIDs) == 0 {
		return ""
	}
	var mapping map[string]string
	if err := json.Unmarshal(p.ProductIDs, &mapping); err != nil {
		return ""
	}
	return strings.TrimSpace(mapping[string(gateway)])
}
