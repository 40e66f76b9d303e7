package settings

import (
	"context"

	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// Store exposes the admin-active gateway setting. The value is read per
// request rather than cached so an admin toggle takes effect without a
// restart.
type Store struct {
	repo billing.Repository
}

// NewStore builds a settings store over the billing repository.
func NewStore(repo billing.Repository) *Store {
	return &Store{repo: repo}
}

// ActiveGateway returns the admin-active gateway name, or nil when no
// gateway is flagged active.
func (s *Store) ActiveGateway(ctx context.Context) (*enums.GatewayName, error) {
	gateway, err := s.repo.ActiveGateway(ctx)
	if err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, nil
	}
	name := gateway.Name
	return &name, nil
}
