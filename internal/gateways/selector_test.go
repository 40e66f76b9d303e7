package gateways

import (
	"context"
	"errors"
	"testing"

	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
)

type stubSettings struct {
	active *enums.GatewayName
	err    error
}

func (s *stubSettings) ActiveGateway(context.Context) (*enums.GatewayName, error) {
	return s.active, s.err
}

func newTestSelector(t *testing.T, settings *stubSettings, allowFallback bool) *Selector {
	t.Helper()
	reg, err := NewRegistry(
		&stubClient{name: enums.GatewayFastSpring},
		&stubClient{name: enums.GatewayPaddle},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	sel, err := NewSelector(reg, settings, allowFallback, nil)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	return sel
}

func TestSelectorStickyBindingWins(t *testing.T) {
	active := enums.GatewayFastSpring
	sel := newTestSelector(t, &stubSettings{active: &active}, true)

	bound := enums.GatewayPaddle
	user := &models.User{Gateway: &bound}

	client, err := sel.ForUser(context.Background(), user)
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if client.Name() != enums.GatewayPaddle {
		t.Fatalf("expected sticky gateway to win over admin-active, got %s", client.Name())
	}
}

func TestSelectorBoundGatewayUnconfigured(t *testing.T) {
	sel := newTestSelector(t, &stubSettings{}, true)

	bound := enums.GatewayPayProGlobal
	user := &models.User{Gateway: &bound}

	_, err := sel.ForUser(context.Background(), user)
	if err == nil {
		t.Fatal("expected error for unconfigured bound gateway")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeUnsupportedGateway {
		t.Fatalf("expected UNSUPPORTED_GATEWAY, got %v", err)
	}
}

func TestSelectorUnboundUserGetsAdminActive(t *testing.T) {
	active := enums.GatewayPaddle
	sel := newTestSelector(t, &stubSettings{active: &active}, true)

	client, err := sel.ForUser(context.Background(), &models.User{})
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if client.Name() != enums.GatewayPaddle {
		t.Fatalf("expected admin-active gateway, got %s", client.Name())
	}
}

func TestSelectorFallbackToFirstConfigured(t *testing.T) {
	sel := newTestSelector(t, &stubSettings{}, true)

	client, err := sel.Default(context.Background())
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if client.Name() != enums.GatewayFastSpring {
		t.Fatalf("expected first-configured fallback, got %s", client.Name())
	}
}

func TestSelectorFallbackDisabled(t *testing.T) {
	sel := newTestSelector(t, &stubSettings{}, false)

	_, err := sel.Default(context.Background())
	if err == nil {
		t.Fatal("expected error when no active gateway and fallback disabled")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeUnsupportedGateway {
		t.Fatalf("expected UNSUPPORTED_GATEWAY, got %v", err)
	}
}

func TestSelectorSettingsError(t *testing.T) {
	sel := newTestSelector(t, &stubSettings{err: errors.New("db down")}, true)

	_, err := sel.Default(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected DEPENDENCY error, got %v", err)
	}
}

func TestSelectorExplicit(t *testing.T) {
	sel := newTestSelector(t, &stubSettings{}, true)

	client, err := sel.Explicit(enums.GatewayPaddle)
	if err != nil {
		t.Fatalf("Explicit: %v", err)
	}
	if client.Name() != enums.GatewayPaddle {
		t.Fatalf("unexpected client %s", client.Name())
	}

	if _, err := sel.Explicit(enums.GatewayName("stripe")); err == nil {
		t.Fatal("expected error for unknown gateway")
	}
}
