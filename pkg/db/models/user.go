package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// User carries only what payment routing and provisioning touch. The
// gateway binding is set on the first completed order and never
// silently reassigned afterwards.
type User struct {
	ID           uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string                   `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash string                   `gorm:"column:password_hash;not null"`
	Gateway      *enums.GatewayName       `gorm:"column:gateway;type:gateway_name"`
	TenantID     *string                  `gorm:"column:tenant_id"`
	Verified     bool                     `gorm:"column:verified;not null;default:false"`
	Provisioning enums.ProvisioningStatus `gorm:"column:provisioning;type:provisioning_status;not null;default:'none'"`
	AffiliateRef *string                  `gorm:"column:affiliate_ref"`
	IsActive     bool                     `gorm:"column:is_active;not null;default:true"`
	LastLoginAt  *time.Time               `gorm:"column:last_login_at"`
	CreatedAt    time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
