package gateways

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nivenlabs/subflow-backend/internal/events"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// Client is the surface every payment provider implements. Adding a
// provider means implementing this interface and registering it; no
// other package switches on provider names.
type Client interface {
	// CreateCheckout builds a hosted checkout session for the package and
	// returns the redirect URL or embed token.
	CreateCheckout(ctx context.Context, user *models.User, pkg *models.Package, opts CheckoutOptions) (*CheckoutSession, error)
	// ParseWebhook validates the payload signature before reading anything
	// else, then normalizes it into a canonical event.
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*events.CanonicalEvent, error)
	// ParseSuccessCallback handles the redirect-based confirmation path for
	// providers without server-to-server webhooks. Same validation
	// obligations as ParseWebhook.
	ParseSuccessCallback(ctx context.Context, values url.Values) (*events.CanonicalEvent, error)
	// VerifyTransaction asks the provider for the authoritative state of a
	// transaction. Returns (nil, nil) when the provider does not know it.
	VerifyTransaction(ctx context.Context, transactionID string) (*TransactionDetails, error)
	// ChangePlan switches the remote subscription to a new product.
	ChangePlan(ctx context.Context, subscriptionID, productID string, proration enums.ProrationMode) (*PlanChangeResult, error)
	// CancelSubscription cancels the remote subscription. Cancelling an
	// already-cancelled subscription reports AlreadyCancelled, not an error.
	CancelSubscription(ctx context.Context, subscriptionID, reason string) (*CancelResult, error)
	Name() enums.GatewayName
}

// CheckoutOptions carries per-request checkout inputs.
type CheckoutOptions struct {
	// Reference is our checkout reference, round-tripped through the
	// provider so callbacks can be matched to the pending order.
	Reference    string
	SuccessURL   string
	CancelURL    string
	AffiliateRef string
}

// CheckoutSession is the provider's hosted checkout handle.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
	ExpiresAt   time.Time
}

// TransactionDetails is the provider's authoritative view of a transaction.
type TransactionDetails struct {
	TransactionID  string
	SubscriptionID string
	Reference      string
	Paid           bool
	Failed         bool
	Amount         *decimal.Decimal
	CurrencyCode   string
	OccurredAt     time.Time
}

// PlanChangeResult reports a completed remote plan change.
type PlanChangeResult struct {
	SubscriptionID string
	ProductID      string
	EffectiveAt    time.Time
	Prorated       bool
}

// CancelResult reports a remote cancellation.
type CancelResult struct {
	SubscriptionID   string
	AlreadyCancelled bool
	EffectiveAt      *time.Time
}
