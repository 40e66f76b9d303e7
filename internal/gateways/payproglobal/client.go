package payproglobal

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nivenlabs/subflow-backend/internal/events"
	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

// Client integrates PayProGlobal. The provider has no server-to-server
// webhook in our setup: confirmation arrives on the success redirect,
// authenticated by a shared-secret checksum over the order id.
type Client struct {
	cfg  config.PayProGlobalConfig
	http *http.Client
	logg *logger.Logger
}

// New builds a PayProGlobal client.
func New(cfg config.PayProGlobalConfig, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.VendorAccountID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payproglobal vendor account id required")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payproglobal secret key required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		logg: logg,
	}, nil
}

// Name implements gateways.Client.
func (c *Client) Name() enums.GatewayName { return enums.GatewayPayProGlobal }

// CreateCheckout builds the hosted order-page URL. PayProGlobal
// checkouts are plain URLs, no session API call is needed.
func (c *Client) CreateCheckout(ctx context.Context, user *models.User, pkg *models.Package, opts gateways.CheckoutOptions) (*gateways.CheckoutSession, error) {
	productID := pkg.ProductIDFor(enums.GatewayPayProGlobal)
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidProductMapping, "package has no payproglobal product").
			WithDetails(map[string]any{"package_id": pkg.ID.String()})
	}

	query := url.Values{}
	query.Set("products[1][id]", productID)
	query.Set("page-template", "default")
	query.Set("billing-email", user.Email)
	query.Set("x-reference", opts.Reference)
	if opts.AffiliateRef != "" {
		query.Set("x-affiliate", opts.AffiliateRef)
	}

	return &gateways.CheckoutSession{
		SessionID:   opts.Reference,
		RedirectURL: "https://store.payproglobal.com/checkout?" + query.Encode(),
	}, nil
}

// ParseWebhook handles the optional IPN post. The IPN carries the same
// checksum scheme as the success redirect.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*events.CanonicalEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payproglobal ipn")
	}
	return c.normalize(values, mapOrderStatus(values.Get("ORDER_STATUS")))
}

// ParseSuccessCallback is the primary confirmation path: validate the
// checksum, then normalize the redirect parameters.
func (c *Client) ParseSuccessCallback(ctx context.Context, values url.Values) (*events.CanonicalEvent, error) {
	return c.normalize(values, enums.EventPaymentSucceeded)
}

func (c *Client) normalize(values url.Values, eventType enums.EventType) (*events.CanonicalEvent, error) {
	data := payloadFromValues(values)
	reference := data.OrderReference()
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference missing")
	}
	if err := c.verifyChecksum(reference, values.Get("checksum")); err != nil {
		return nil, err
	}

	canonical := &events.CanonicalEvent{
		Gateway:         enums.GatewayPayProGlobal,
		Type:            eventType,
		ExternalEventID: data.EventID(),
		SubscriptionID:  data.SubscriptionID(),
		OrderReference:  reference,
		TransactionID:   data.TransactionID(),
		Amount:          data.Amount(),
		CurrencyCode:    data.CurrencyCode(),
		CustomerEmail:   data.CustomerEmail(),
		OccurredAt:      data.OccurredAt(time.Now().UTC()),
		RawPayload:      rawJSON(values),
		Verified:        true,
	}
	if canonical.ExternalEventID == "" {
		canonical.ExternalEventID = reference
	}
	return canonical, nil
}

// VerifyTransaction queries the order status API.
func (c *Client) VerifyTransaction(ctx context.Context, transactionID string) (*gateways.TransactionDetails, error) {
	reqBody := map[string]any{
		"vendorAccountId": c.cfg.VendorAccountID,
		"apiSecretKey":    c.cfg.SecretKey,
		"orderId":         transactionID,
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payproglobal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/Orders/GetOrderDetails", strings.NewReader(string(encoded)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payproglobal request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "payproglobal request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnreachable, fmt.Sprintf("payproglobal api error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("payproglobal api error: %d", resp.StatusCode))
	}

	var body struct {
		IsSuccess bool `json:"isSuccess"`
		Response  struct {
			OrderID        int64  `json:"orderId"`
			OrderStatus    string `json:"orderStatusName"`
			SubscriptionID int64  `json:"subscriptionId"`
			Total          string `json:"orderTotalPrice"`
			Currency       string `json:"orderCurrencyCode"`
			PlacedAt       string `json:"orderPlacedTimeUtc"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payproglobal response")
	}
	if !body.IsSuccess {
		return nil, nil
	}

	status := strings.ToLower(body.Response.OrderStatus)
	details := &gateways.TransactionDetails{
		TransactionID: fmt.Sprintf("%d", body.Response.OrderID),
		Paid:          status == "processed" || status == "completed",
		Failed:        status == "declined" || status == "refunded" || status == "chargeback",
		CurrencyCode:  strings.ToUpper(body.Response.Currency),
	}
	if body.Response.SubscriptionID > 0 {
		details.SubscriptionID = fmt.Sprintf("%d", body.Response.SubscriptionID)
	}
	if amount := (events.Payload{"amount": body.Response.Total}).Amount(); amount != nil {
		details.Amount = amount
	}
	details.OccurredAt = (events.Payload{"event_time": body.Response.PlacedAt}).OccurredAt(time.Now().UTC())
	return details, nil
}

// ChangePlan is not offered by PayProGlobal's API; plan changes are
// cancel-and-rebuy. Reported as proration-unsupported so the
// orchestrator can surface a clear error.
func (c *Client) ChangePlan(ctx context.Context, subscriptionID, productID string, proration enums.ProrationMode) (*gateways.PlanChangeResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeProrationUnsupported, "payproglobal does not support in-place plan changes").
		WithDetails(map[string]any{"subscription_id": subscriptionID})
}

// CancelSubscription terminates the subscription via the API.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID, reason string) (*gateways.CancelResult, error) {
	reqBody := map[string]any{
		"vendorAccountId": c.cfg.VendorAccountID,
		"apiSecretKey":    c.cfg.SecretKey,
		"subscriptionId":  subscriptionID,
		"cancellationReasonText": reason,
		"sendCustomerNotification": false,
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payproglobal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/Subscriptions/Terminate", strings.NewReader(string(encoded)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payproglobal request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "payproglobal request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnreachable, fmt.Sprintf("payproglobal api error: %d", resp.StatusCode))
	}

	var body struct {
		IsSuccess bool     `json:"isSuccess"`
		Errors    []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payproglobal response")
	}
	if !body.IsSuccess {
		joined := strings.ToLower(strings.Join(body.Errors, "; "))
		if strings.Contains(joined, "terminated") || strings.Contains(joined, "cancelled") {
			return &gateways.CancelResult{SubscriptionID: subscriptionID, AlreadyCancelled: true}, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payproglobal rejected cancellation").
			WithDetails(map[string]any{"errors": body.Errors})
	}
	return &gateways.CancelResult{SubscriptionID: subscriptionID}, nil
}

func (c *Client) verifyChecksum(orderReference, checksum string) error {
	checksum = strings.TrimSpace(checksum)
	if checksum == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "missing callback checksum")
	}
	expected := Checksum(orderReference, c.cfg.SecretKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(checksum))) != 1 {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "callback checksum mismatch")
	}
	return nil
}

// Checksum computes the shared-secret digest PayProGlobal appends to
// redirect URLs: SHA256(orderReference + secret), hex-encoded.
func Checksum(orderReference, secret string) string {
	sum := sha256.Sum256([]byte(orderReference + secret))
	return hex.EncodeToString(sum[:])
}

func mapOrderStatus(raw string) enums.EventType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "processed", "completed":
		return enums.EventPaymentSucceeded
	case "declined", "refunded", "chargeback":
		return enums.EventPaymentFailed
	case "cancelled", "terminated":
		return enums.EventSubscriptionCancelled
	default:
		return enums.EventTypeUnknown
	}
}

func payloadFromValues(values url.Values) events.Payload {
	payload := make(events.Payload, len(values))
	for key := range values {
		payload[key] = values.Get(key)
	}
	return payload
}

func rawJSON(values url.Values) json.RawMessage {
	flat := make(map[string]string, len(values))
	for key := range values {
		flat[key] = values.Get(key)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return nil
	}
	return raw
}
