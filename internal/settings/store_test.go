package settings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

func setupSettingsDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE gateways (
  id TEXT PRIMARY KEY, name TEXT NOT NULL UNIQUE, display_name TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 0, position INTEGER NOT NULL DEFAULT 0,
  credentials TEXT, created_at DATETIME, updated_at DATETIME);`).Error)
	return db
}

func TestActiveGatewayReflectsToggle(t *testing.T) {
	db := setupSettingsDB(t)
	repo := billing.NewRepository(db)
	store := NewStore(repo)
	ctx := context.Background()

	for i, name := range []enums.GatewayName{enums.GatewayFastSpring, enums.GatewayPaddle} {
		require.NoError(t, db.Create(&models.Gateway{
			ID:          uuid.New(),
			Name:        name,
			DisplayName: string(name),
			Position:    i,
		}).Error)
	}

	active, err := store.ActiveGateway(ctx)
	require.NoError(t, err)
	assert.Nil(t, active, "no gateway flagged active yet")

	require.NoError(t, repo.SetActiveGateway(ctx, enums.GatewayPaddle))

	active, err = store.ActiveGateway(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, enums.GatewayPaddle, *active)

	// Toggling again is visible on the next read without a restart.
	require.NoError(t, repo.SetActiveGateway(ctx, enums.GatewayFastSpring))

	active, err = store.ActiveGateway(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, enums.GatewayFastSpring, *active)
}
