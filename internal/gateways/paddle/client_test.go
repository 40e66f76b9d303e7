package paddle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
)

const testSecret = "pdl-secret"

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(config.PaddleConfig{
		VendorID:      "12345",
		APIKey:        "auth-code",
		WebhookSecret: testSecret,
		BaseURL:       baseURL,
	}, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func signedAlert(t *testing.T, values url.Values) []byte {
	t.Helper()
	values.Set(signatureField, Sign(values, testSecret))
	return []byte(values.Encode())
}

func TestParseWebhookPaymentSucceeded(t *testing.T) {
	client := newTestClient(t, "http://unused")

	values := url.Values{}
	values.Set("alert_name", "subscription_payment_succeeded")
	values.Set("alert_id", "alert-77")
	values.Set("subscription_id", "sub-3")
	values.Set("passthrough", "ref-12")
	values.Set("order_id", "ord-88")
	values.Set("sale_gross", "29.00")
	values.Set("currency", "eur")
	values.Set("email", "jo@example.com")
	values.Set("event_time", "2026-05-30 10:00:00")

	event, err := client.ParseWebhook(context.Background(), signedAlert(t, values), http.Header{})
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.Type != enums.EventPaymentSucceeded {
		t.Fatalf("unexpected type %s", event.Type)
	}
	if event.OrderReference != "ref-12" {
		t.Fatalf("expected passthrough reference, got %s", event.OrderReference)
	}
	if event.SubscriptionID != "sub-3" {
		t.Fatalf("unexpected subscription %s", event.SubscriptionID)
	}
	if event.CurrencyCode != "EUR" {
		t.Fatalf("unexpected currency %s", event.CurrencyCode)
	}
	if event.Amount == nil || event.Amount.String() != "29" {
		t.Fatalf("unexpected amount %v", event.Amount)
	}
	if event.OccurredAt.Year() != 2026 {
		t.Fatalf("unexpected occurred_at %v", event.OccurredAt)
	}
	if len(event.RawPayload) == 0 {
		t.Fatal("expected raw payload")
	}
}

func TestParseWebhookTamperedAlert(t *testing.T) {
	client := newTestClient(t, "http://unused")

	values := url.Values{}
	values.Set("alert_name", "payment_succeeded")
	values.Set("passthrough", "ref-1")
	payload := signedAlert(t, values)

	tampered, err := url.ParseQuery(string(payload))
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	tampered.Set("passthrough", "ref-2")

	_, err = client.ParseWebhook(context.Background(), []byte(tampered.Encode()), http.Header{})
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeInvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE, got %v", err)
	}
}

func TestParseWebhookMissingSignature(t *testing.T) {
	client := newTestClient(t, "http://unused")

	_, err := client.ParseWebhook(context.Background(), []byte("alert_name=payment_succeeded"), http.Header{})
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeInvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE, got %v", err)
	}
}

func TestMapAlertName(t *testing.T) {
	cases := map[string]enums.EventType{
		"payment_succeeded":              enums.EventPaymentSucceeded,
		"subscription_payment_succeeded": enums.EventPaymentSucceeded,
		"subscription_created":           enums.EventPaymentSucceeded,
		"payment_failed":                 enums.EventPaymentFailed,
		"subscription_payment_failed":    enums.EventPaymentFailed,
		"subscription_cancelled":         enums.EventSubscriptionCancelled,
		"subscription_updated":           enums.EventSubscriptionUpdated,
		"high_risk_transaction_created":  enums.EventTypeUnknown,
	}
	for alert, want := range cases {
		if got := mapAlertName(alert); got != want {
			t.Errorf("mapAlertName(%q) = %s, want %s", alert, got, want)
		}
	}
}

func TestCreateCheckoutGeneratesPayLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/product/generate_pay_link" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("product_id") != "654321" {
			t.Errorf("unexpected product id %s", r.PostForm.Get("product_id"))
		}
		if r.PostForm.Get("passthrough") != "ref-55" {
			t.Errorf("unexpected passthrough %s", r.PostForm.Get("passthrough"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"response": map[string]any{"url": "https://checkout.paddle.com/checkout/custom/abc"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	pkg := &models.Package{ID: uuid.New(), ProductIDs: json.RawMessage(`{"paddle":"654321"}`)}
	user := &models.User{ID: uuid.New(), Email: "jo@example.com"}

	session, err := client.CreateCheckout(context.Background(), user, pkg, gateways.CheckoutOptions{Reference: "ref-55"})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if session.RedirectURL != "https://checkout.paddle.com/checkout/custom/abc" {
		t.Fatalf("unexpected redirect %s", session.RedirectURL)
	}
}

func TestCreateCheckoutMissingProductMapping(t *testing.T) {
	client := newTestClient(t, "http://unused")
	pkg := &models.Package{ID: uuid.New(), ProductIDs: json.RawMessage(`{"fastspring":"pro"}`)}

	_, err := client.CreateCheckout(context.Background(), &models.User{ID: uuid.New()}, pkg, gateways.CheckoutOptions{Reference: "r"})
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeInvalidProductMapping {
		t.Fatalf("expected INVALID_PRODUCT_MAPPING, got %v", err)
	}
}

func TestVerifyTransactionStates(t *testing.T) {
	state := "processed"
	success := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": success,
			"response": map[string]any{
				"state":           state,
				"order_id":        "ord-1",
				"subscription_id": "sub-1",
				"passthrough":     "ref-1",
				"total":           "10.00",
				"currency":        "usd",
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	details, err := client.VerifyTransaction(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}
	if !details.Paid || details.Failed {
		t.Fatalf("expected paid details, got %+v", details)
	}
	if details.Reference != "ref-1" || details.CurrencyCode != "USD" {
		t.Fatalf("unexpected details %+v", details)
	}

	state = "refused"
	details, err = client.VerifyTransaction(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}
	if details.Paid || !details.Failed {
		t.Fatalf("expected failed details, got %+v", details)
	}

	success = false
	details, err = client.VerifyTransaction(context.Background(), "ord-missing")
	if err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}
	if details != nil {
		t.Fatalf("expected nil details for unknown order, got %+v", details)
	}
}

func TestChangePlanDeferredUsesNextPaymentDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("bill_immediately") != "false" {
			t.Errorf("expected deferred billing, got %s", r.PostForm.Get("bill_immediately"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"response": map[string]any{
				"subscription_id": 3,
				"plan_id":         654321,
				"next_payment":    map[string]any{"date": "2026-10-01"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.ChangePlan(context.Background(), "sub-3", "654321", enums.ProrationNextPeriod)
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if result.Prorated {
		t.Fatal("deferred change must not report proration")
	}
	want := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if !result.EffectiveAt.Equal(want) {
		t.Fatalf("expected effective_at %v, got %v", want, result.EffectiveAt)
	}
}

func TestCancelSubscriptionAlreadyCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]any{"code": 119, "message": "subscription is already cancelled"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.CancelSubscription(context.Background(), "sub-9", "too expensive")
	if err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if !result.AlreadyCancelled {
		t.Fatalf("expected AlreadyCancelled, got %+v", result)
	}
}

func TestGatewayUnreachableIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.VerifyTransaction(context.Background(), "ord-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
