package gateways

import (
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
)

// Registry holds the configured gateway clients keyed by name. It is
// built once at startup and read-only afterwards, so no locking.
type Registry struct {
	clients map[enums.GatewayName]Client
	order   []enums.GatewayName
}

// NewRegistry builds a registry from the provided clients, preserving
// registration order for first-configured fallback.
func NewRegistry(clients ...Client) (*Registry, error) {
	reg := &Registry{clients: make(map[enums.GatewayName]Client, len(clients))}
	for _, client := range clients {
		if client == nil {
			continue
		}
		name := client.Name()
		if !name.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeUnsupportedGateway, "unsupported gateway").
				WithDetails(map[string]any{"gateway": string(name)})
		}
		if _, exists := reg.clients[name]; exists {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registered twice").
				WithDetails(map[string]any{"gateway": string(name)})
		}
		reg.clients[name] = client
		reg.order = append(reg.order, name)
	}
	if len(reg.clients) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "no gateway clients configured")
	}
	return reg, nil
}

// Get returns the client for the named gateway.
func (r *Registry) Get(name enums.GatewayName) (Client, error) {
	client, ok := r.clients[name]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedGateway, "gateway not configured").
			WithDetails(map[string]any{"gateway": string(name)})
	}
	return client, nil
}

// Has reports whether the named gateway is configured.
func (r *Registry) Has(name enums.GatewayName) bool {
	_, ok := r.clients[name]
	return ok
}

// First returns the first-configured client, used as last-resort fallback.
func (r *Registry) First() Client {
	if len(r.order) == 0 {
		return nil
	}
	return r.clients[r.order[0]]
}

// Names returns the configured gateway names in registration order.
func (r *Registry) Names() []enums.GatewayName {
	out := make([]enums.GatewayName, len(r.order))
	copy(out, r.order)
	return out
}
