package redis

import (
	"context"
	"errors"
	"time"
)

const defaultWebhookGuardTTL = 7 * 24 * time.Hour

type webhookGuardStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(gateway, eventID string) string
}

// WebhookGuard deduplicates provider webhook deliveries by external
// event id. The mark is taken before processing and released on
// failure so the provider's redelivery gets another attempt.
type WebhookGuard struct {
	store webhookGuardStore
	ttl   time.Duration
}

// NewWebhookGuard builds a guard over the Redis client.
func NewWebhookGuard(client *Client, ttl time.Duration) (*WebhookGuard, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultWebhookGuardTTL
	}
	return &WebhookGuard{store: client, ttl: ttl}, nil
}

// CheckAndMark reports whether the event was already marked and, when
// it was not, marks it for the guard TTL.
func (g *WebhookGuard) CheckAndMark(ctx context.Context, gateway, eventID string) (bool, error) {
	if eventID == "" {
		// Events without an id cannot be deduplicated here; the DB
		// audit trail is the fallback.
		return false, nil
	}
	ok, err := g.store.SetNX(ctx, g.store.WebhookEventKey(gateway, eventID), "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Release removes the mark so a failed event can be redelivered.
func (g *WebhookGuard) Release(ctx context.Context, gateway, eventID string) error {
	if eventID == "" {
		return nil
	}
	return g.store.Del(ctx, g.store.WebhookEventKey(gateway, eventID))
}
