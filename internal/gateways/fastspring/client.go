package fastspring

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
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

const signatureHeader = "X-FS-Signature"

// Client talks to the FastSpring storefront sessions API and validates
// its HMAC-signed webhooks.
type Client struct {
	cfg  config.FastSpringConfig
	http *http.Client
	logg *logger.Logger
}

// New builds a FastSpring client.
func New(cfg config.FastSpringConfig, timeout time.Duration, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Username) == "" || strings.TrimSpace(cfg.Password) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fastspring credentials required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fastspring webhook secret required")
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
func (c *Client) Name() enums.GatewayName { return enums.GatewayFastSpring }

// CreateCheckout creates a storefront session and returns its redirect URL.
func (c *Client) CreateCheckout(ctx context.Context, user *models.User, pkg *models.Package, opts gateways.CheckoutOptions) (*gateways.CheckoutSession, error) {
	productID := pkg.ProductIDFor(enums.GatewayFastSpring)
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidProductMapping, "package has no fastspring product").
			WithDetails(map[string]any{"package_id": pkg.ID.String()})
	}

	reqBody := map[string]any{
		"account": user.Email,
		"items": []map[string]any{
			{"product": productID, "quantity": 1},
		},
		"tags": map[string]string{
			"reference": opts.Reference,
			"user_id":   user.ID.String(),
		},
	}
	if opts.AffiliateRef != "" {
		reqBody["coupon"] = opts.AffiliateRef
	}

	var session struct {
		ID      string `json:"id"`
		URL     string `json:"url"`
		Expires int64  `json:"expires"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", reqBody, &session); err != nil {
		return nil, err
	}
	if session.URL == "" {
		session.URL = fmt.Sprintf("https://%s.onfastspring.com/session/%s", c.cfg.StorefrontID, session.ID)
	}

	out := &gateways.CheckoutSession{
		SessionID:   session.ID,
		RedirectURL: session.URL,
	}
	if session.Expires > 0 {
		out.ExpiresAt = time.UnixMilli(session.Expires).UTC()
	}
	return out, nil
}

// ParseWebhook validates the HMAC signature and normalizes the first
// event in the batch. FastSpring posts {"events":[...]}.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*events.CanonicalEvent, error) {
	if err := c.verifySignature(payload, headers.Get(signatureHeader)); err != nil {
		return nil, err
	}

	var body struct {
		Events []struct {
			ID      string         `json:"id"`
			Type    string         `json:"type"`
			Created int64          `json:"created"`
			Data    events.Payload `json:"data"`
		} `json:"events"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode fastspring webhook")
	}
	if len(body.Events) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fastspring webhook has no events")
	}

	evt := body.Events[0]
	data := evt.Data
	if data == nil {
		data = events.Payload{}
	}

	occurredAt := time.Now().UTC()
	if evt.Created > 0 {
		occurredAt = time.UnixMilli(evt.Created).UTC()
	}

	canonical := &events.CanonicalEvent{
		Gateway:         enums.GatewayFastSpring,
		Type:            mapEventType(evt.Type),
		ExternalEventID: evt.ID,
		SubscriptionID:  data.SubscriptionID(),
		OrderReference:  data.OrderReference(),
		TransactionID:   data.TransactionID(),
		Amount:          data.Amount(),
		CurrencyCode:    data.CurrencyCode(),
		CustomerEmail:   data.CustomerEmail(),
		OccurredAt:      occurredAt,
		RawPayload:      json.RawMessage(payload),
		Verified:        true,
	}
	if canonical.ExternalEventID == "" {
		canonical.ExternalEventID = data.EventID()
	}
	return canonical, nil
}

// ParseSuccessCallback normalizes the browser redirect. FastSpring does
// not sign redirect parameters, so the event stays unverified: the
// success endpoint must corroborate it through VerifyTransaction before
// confirming anything.
func (c *Client) ParseSuccessCallback(ctx context.Context, values url.Values) (*events.CanonicalEvent, error) {
	data := payloadFromValues(values)
	reference := data.OrderReference()
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference missing from callback")
	}
	return &events.CanonicalEvent{
		Gateway:         enums.GatewayFastSpring,
		Type:            enums.EventPaymentSucceeded,
		ExternalEventID: data.EventID(),
		OrderReference:  reference,
		TransactionID:   data.TransactionID(),
		SubscriptionID:  data.SubscriptionID(),
		OccurredAt:      time.Now().UTC(),
	}, nil
}

// VerifyTransaction fetches the order from the orders API.
func (c *Client) VerifyTransaction(ctx context.Context, transactionID string) (*gateways.TransactionDetails, error) {
	var order struct {
		ID        string         `json:"id"`
		Completed bool           `json:"completed"`
		Canceled  bool           `json:"canceled"`
		Reference string         `json:"reference"`
		Changed   int64          `json:"changed"`
		Total     string         `json:"total"`
		Currency  string         `json:"currency"`
		Items     []struct {
			Subscription string `json:"subscription"`
		} `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(transactionID), nil, &order)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	details := &gateways.TransactionDetails{
		TransactionID: order.ID,
		Reference:     order.Reference,
		Paid:          order.Completed,
		Failed:        order.Canceled,
		CurrencyCode:  strings.ToUpper(order.Currency),
	}
	if amount := (events.Payload{"amount": order.Total}).Amount(); amount != nil {
		details.Amount = amount
	}
	if order.Changed > 0 {
		details.OccurredAt = time.UnixMilli(order.Changed).UTC()
	}
	if len(order.Items) > 0 {
		details.SubscriptionID = order.Items[0].Subscription
	}
	return details, nil
}

// ChangePlan swaps the subscription product in place. FastSpring
// prorates immediately; deferred proration is not offered.
func (c *Client) ChangePlan(ctx context.Context, subscriptionID, productID string, proration enums.ProrationMode) (*gateways.PlanChangeResult, error) {
	if proration == enums.ProrationNextPeriod {
		return nil, pkgerrors.New(pkgerrors.CodeProrationUnsupported, "fastspring only prorates immediately").
			WithDetails(map[string]any{"proration": string(proration)})
	}
	reqBody := map[string]any{
		"subscriptions": []map[string]any{
			{"subscription": subscriptionID, "product": productID, "prorate": proration == enums.ProrationImmediate},
		},
	}
	var resp struct {
		Subscriptions []struct {
			Subscription string `json:"subscription"`
			Result       string `json:"result"`
		} `json:"subscriptions"`
	}
	if err := c.do(ctx, http.MethodPost, "/subscriptions", reqBody, &resp); err != nil {
		return nil, err
	}
	for _, sub := range resp.Subscriptions {
		if sub.Subscription == subscriptionID && !strings.EqualFold(sub.Result, "success") {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "fastspring rejected plan change").
				WithDetails(map[string]any{"result": sub.Result})
		}
	}
	return &gateways.PlanChangeResult{
		SubscriptionID: subscriptionID,
		ProductID:      productID,
		EffectiveAt:    time.Now().UTC(),
		Prorated:       proration == enums.ProrationImmediate,
	}, nil
}

// CancelSubscription cancels at the provider. FastSpring returns the
// same success shape for an already-cancelled subscription.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID, reason string) (*gateways.CancelResult, error) {
	var resp struct {
		Subscriptions []struct {
			Subscription string `json:"subscription"`
			Result       string `json:"result"`
			Error        struct {
				Subscription string `json:"subscription"`
			} `json:"error"`
		} `json:"subscriptions"`
	}
	err := c.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &resp)
	if err != nil {
		if isNotFound(err) {
			return &gateways.CancelResult{SubscriptionID: subscriptionID, AlreadyCancelled: true}, nil
		}
		return nil, err
	}
	for _, sub := range resp.Subscriptions {
		if sub.Subscription != subscriptionID {
			continue
		}
		if strings.Contains(strings.ToLower(sub.Error.Subscription), "canceled") {
			return &gateways.CancelResult{SubscriptionID: subscriptionID, AlreadyCancelled: true}, nil
		}
	}
	return &gateways.CancelResult{SubscriptionID: subscriptionID}, nil
}

func (c *Client) verifySignature(payload []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "missing webhook signature")
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "webhook signature mismatch")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode fastspring request")
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build fastspring request")
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnreachable, err, "fastspring request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return pkgerrors.New(pkgerrors.CodeNotFound, "fastspring resource not found")
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.New(pkgerrors.CodeGatewayUnreachable, fmt.Sprintf("fastspring api error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("fastspring api error: %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode fastspring response")
	}
	return nil
}

func mapEventType(raw string) enums.EventType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "order.completed", "subscription.charge.completed":
		return enums.EventPaymentSucceeded
	case "order.failed", "subscription.charge.failed", "subscription.payment.overdue":
		return enums.EventPaymentFailed
	case "subscription.canceled", "subscription.deactivated":
		return enums.EventSubscriptionCancelled
	case "subscription.updated":
		return enums.EventSubscriptionUpdated
	default:
		return enums.EventTypeUnknown
	}
}

func isNotFound(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeNotFound
}

func payloadFromValues(values url.Values) events.Payload {
	payload := make(events.Payload, len(values))
	for key := range values {
		payload[key] = values.Get(key)
	}
	return payload
}
