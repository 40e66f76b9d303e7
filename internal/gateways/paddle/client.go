package paddle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
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

const signatureField = "p_signature"

// Client talks to the Paddle vendor API. Webhooks arrive as
// form-encoded alerts carrying a detached signature field.
type Client struct {
	cfg  config.PaddleConfig
	http *http.Client
	logg *logger.Logger
}

// New builds a Paddle client.
func New(cfg config.PaddleConfig, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.VendorID) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paddle credentials required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paddle webhook secret required")
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
func (c *Client) Name() enums.GatewayName { return enums.GatewayPaddle }

// CreateCheckout generates a pay link for the package's Paddle product.
func (c *Client) CreateCheckout(ctx context.Context, user *models.User, pkg *models.Package, opts gateways.CheckoutOptions) (*gateways.CheckoutSession, error) {
	productID := pkg.ProductIDFor(enums.GatewayPaddle)
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidProductMapping, "package has no paddle product").
			WithDetails(map[string]any{"package_id": pkg.ID.String()})
	}

	form := url.Values{}
	form.Set("vendor_id", c.cfg.VendorID)
	form.Set("vendor_auth_code", c.cfg.APIKey)
	form.Set("product_id", productID)
	form.Set("customer_email", user.Email)
	form.Set("passthrough", opts.Reference)
	if opts.SuccessURL != "" {
		form.Set("return_url", opts.SuccessURL)
	}
	if opts.AffiliateRef != "" {
		form.Set("affiliates", opts.AffiliateRef)
	}

	var resp payLinkResponse
	if err := c.post(ctx, "/product/generate_pay_link", form, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paddle rejected pay link request").
			WithDetails(map[string]any{"error": resp.Error.Message})
	}
	return &gateways.CheckoutSession{
		SessionID:   opts.Reference,
		RedirectURL: resp.Response.URL,
	}, nil
}

// ParseWebhook validates the alert signature, then normalizes the
// form-encoded alert into a canonical event.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*events.CanonicalEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paddle alert")
	}
	if err := c.verifySignature(values); err != nil {
		return nil, err
	}

	data := payloadFromValues(values)
	alertName := values.Get("alert_name")

	canonical := &events.CanonicalEvent{
		Gateway:         enums.GatewayPaddle,
		Type:            mapAlertName(alertName),
		ExternalEventID: data.EventID(),
		SubscriptionID:  data.SubscriptionID(),
		OrderReference:  orderReference(values, data),
		TransactionID:   data.TransactionID(),
		Amount:          data.Amount(),
		CurrencyCode:    data.CurrencyCode(),
		CustomerEmail:   data.CustomerEmail(),
		OccurredAt:      data.OccurredAt(time.Now().UTC()),
		RawPayload:      rawJSON(values),
		Verified:        true,
	}
	return canonical, nil
}

// ParseSuccessCallback normalizes the return-URL redirect. Paddle does
// not sign the redirect, so the event stays unverified and the success
// endpoint must corroborate it through VerifyTransaction before
// confirming anything.
func (c *Client) ParseSuccessCallback(ctx context.Context, values url.Values) (*events.CanonicalEvent, error) {
	data := payloadFromValues(values)
	reference := orderReference(values, data)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference missing from callback")
	}
	return &events.CanonicalEvent{
		Gateway:         enums.GatewayPaddle,
		Type:            enums.EventPaymentSucceeded,
		ExternalEventID: data.EventID(),
		OrderReference:  reference,
		TransactionID:   data.TransactionID(),
		SubscriptionID:  data.SubscriptionID(),
		OccurredAt:      time.Now().UTC(),
	}, nil
}

// VerifyTransaction checks the payment state via the order details API.
func (c *Client) VerifyTransaction(ctx context.Context, transactionID string) (*gateways.TransactionDetails, error) {
	form := url.Values{}
	form.Set("vendor_id", c.cfg.VendorID)
	form.Set("vendor_auth_code", c.cfg.APIKey)
	form.Set("order_id", transactionID)

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Response struct {
			State          string `json:"state"`
			OrderID        string `json:"order_id"`
			SubscriptionID string `json:"subscription_id"`
			Passthrough    string `json:"passthrough"`
			Total          string `json:"total"`
			Currency       string `json:"currency"`
		} `json:"response"`
	}
	if err := c.post(ctx, "/order", form, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		// Paddle reports unknown orders as an application-level error.
		return nil, nil
	}

	details := &gateways.TransactionDetails{
		TransactionID:  resp.Response.OrderID,
		SubscriptionID: resp.Response.SubscriptionID,
		Reference:      resp.Response.Passthrough,
		Paid:           strings.EqualFold(resp.Response.State, "processed"),
		Failed:         strings.EqualFold(resp.Response.State, "refused"),
		CurrencyCode:   strings.ToUpper(resp.Response.Currency),
		OccurredAt:     time.Now().UTC(),
	}
	if amount := (events.Payload{"amount": resp.Response.Total}).Amount(); amount != nil {
		details.Amount = amount
	}
	return details, nil
}

// ChangePlan moves the subscription onto a new plan. Paddle supports
// immediate proration and deferred (bill_immediately=false) changes.
func (c *Client) ChangePlan(ctx context.Context, subscriptionID, productID string, proration enums.ProrationMode) (*gateways.PlanChangeResult, error) {
	form := url.Values{}
	form.Set("vendor_id", c.cfg.VendorID)
	form.Set("vendor_auth_code", c.cfg.APIKey)
	form.Set("subscription_id", subscriptionID)
	form.Set("plan_id", productID)
	switch proration {
	case enums.ProrationImmediate:
		form.Set("prorate", "true")
		form.Set("bill_immediately", "true")
	case enums.ProrationNextPeriod:
		form.Set("prorate", "false")
		form.Set("bill_immediately", "false")
	case enums.ProrationNone:
		form.Set("prorate", "false")
		form.Set("bill_immediately", "true")
	}

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
		Response struct {
			SubscriptionID int64  `json:"subscription_id"`
			PlanID         int64  `json:"plan_id"`
			NextPayment    struct {
				Date string `json:"date"`
			} `json:"next_payment"`
		} `json:"response"`
	}
	if err := c.post(ctx, "/subscription/users/update", form, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paddle rejected plan change").
			WithDetails(map[string]any{"error": resp.Error.Message})
	}

	result := &gateways.PlanChangeResult{
		SubscriptionID: subscriptionID,
		ProductID:      productID,
		Prorated:       proration == enums.ProrationImmediate,
		EffectiveAt:    time.Now().UTC(),
	}
	if proration == enums.ProrationNextPeriod && resp.Response.NextPayment.Date != "" {
		if next, err := time.Parse("2006-01-02", resp.Response.NextPayment.Date); err == nil {
			result.EffectiveAt = next
		}
	}
	return result, nil
}

// CancelSubscription cancels the subscription. Cancelling one Paddle
// has already cancelled reports AlreadyCancelled.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID, reason string) (*gateways.CancelResult, error) {
	form := url.Values{}
	form.Set("vendor_id", c.cfg.VendorID)
	form.Set("vendor_auth_code", c.cfg.APIKey)
	form.Set("subscription_id", subscriptionID)

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.post(ctx, "/subscription/users_cancel", form, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		if strings.Contains(strings.ToLower(resp.Error.Message), "cancel") {
			return &gateways.CancelResult{SubscriptionID: subscriptionID, AlreadyCancelled: true}, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paddle rejected cancellation").
			WithDetails(map[string]any{"error": resp.Error.Message})
	}
	return &gateways.CancelResult{SubscriptionID: subscriptionID}, nil
}

type payLinkResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response struct {
		URL string `json:"url"`
	} `json:"response"`
}

// verifySignature recomputes the alert signature over the remaining
// fields sorted by key and compares it to p_signature.
func (c *Client) verifySignature(values url.Values) error {
	signature := strings.TrimSpace(values.Get(signatureField))
	if signature == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "missing alert signature")
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		if key == signatureField {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(values.Get(key))
		builder.WriteByte('&')
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write([]byte(builder.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "alert signature mismatch")
	}
	return nil
}

// Sign computes the signature for a form the way verifySignature
// expects it. Exposed for tests and fixture tooling.
func Sign(values url.Values, secret string) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == signatureField {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(values.Get(key))
		builder.WriteByte('&')
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(builder.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paddle request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "paddle request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.New(pkgerrors.CodeGatewayUnreachable, fmt.Sprintf("paddle api error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paddle api error: %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paddle response")
	}
	return nil
}

func mapAlertName(raw string) enums.EventType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "payment_succeeded", "subscription_payment_succeeded", "subscription_created":
		return enums.EventPaymentSucceeded
	case "payment_failed", "subscription_payment_failed":
		return enums.EventPaymentFailed
	case "subscription_cancelled":
		return enums.EventSubscriptionCancelled
	case "subscription_updated":
		return enums.EventSubscriptionUpdated
	default:
		return enums.EventTypeUnknown
	}
}

// orderReference prefers the passthrough we planted at checkout, then
// the usual order-reference aliases.
func orderReference(values url.Values, data events.Payload) string {
	if passthrough := strings.TrimSpace(values.Get("passthrough")); passthrough != "" {
		return passthrough
	}
	return data.OrderReference()
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
