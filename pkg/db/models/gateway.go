package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// Gateway is a configured payment provider. At most one row carries the
// admin-active flag at a time; a user bound to an inactive gateway keeps
// routing through it ("sticky" binding).
type Gateway struct {
	ID          uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name        enums.GatewayName `gorm:"column:name;type:gateway_name;not null;uniqueIndex"`
	DisplayName string            `gorm:"column:display_name;not null"`
	Active      bool              `gorm:"column:active;not null;default:false"`
	Position    int               `gorm:"column:position;not null;default:0"`
	Credentials json.RawMessage   `gorm:"column:credentials;type:jsonb"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
