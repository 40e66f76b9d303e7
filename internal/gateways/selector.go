package gateways

import (
	"context"

	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

// ActiveGatewayReader reads the admin-selected active gateway. Reads
// happen per request so an admin toggle takes effect without restarts.
type ActiveGatewayReader interface {
	ActiveGateway(ctx context.Context) (*enums.GatewayName, error)
}

// Selector resolves which gateway client serves a request. Resolution
// order: explicit request override, the user's sticky binding, the
// admin-active gateway, then (behind a flag) the first configured one.
type Selector struct {
	registry      *Registry
	settings      ActiveGatewayReader
	allowFallback bool
	logg          *logger.Logger
}

// NewSelector builds a selector over the registry.
func NewSelector(registry *Registry, settings ActiveGatewayReader, allowFallback bool, logg *logger.Logger) (*Selector, error) {
	if registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	}
	if settings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settings reader required")
	}
	return &Selector{
		registry:      registry,
		settings:      settings,
		allowFallback: allowFallback,
		logg:          logg,
	}, nil
}

// ForUser resolves the gateway for an authenticated user. A user who has
// completed an order stays on their bound gateway even when the admin
// has since activated a different one.
func (s *Selector) ForUser(ctx context.Context, user *models.User) (Client, error) {
	if user != nil && user.Gateway != nil {
		client, err := s.registry.Get(*user.Gateway)
		if err != nil {
			// Bound gateway no longer configured; surface rather than
			// silently reassigning the user.
			return nil, err
		}
		return client, nil
	}
	return s.Default(ctx)
}

// Explicit resolves a request-supplied gateway name, e.g. from the
// checkout URL path.
func (s *Selector) Explicit(name enums.GatewayName) (Client, error) {
	return s.registry.Get(name)
}

// Default resolves the gateway for a user with no binding.
func (s *Selector) Default(ctx context.Context) (Client, error) {
	active, err := s.settings.ActiveGateway(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read active gateway")
	}
	if active != nil {
		if client, getErr := s.registry.Get(*active); getErr == nil {
			return client, nil
		}
		// Active gateway points at an unconfigured client; fall through.
	}
	if !s.allowFallback {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedGateway, "no active gateway configured")
	}
	client := s.registry.First()
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedGateway, "no gateway clients configured")
	}
	if s.logg != nil {
		ctx = s.logg.WithGateway(ctx, string(client.Name()))
		s.logg.Warn(ctx, "no active gateway set, falling back to first configured")
	}
	return client, nil
}
