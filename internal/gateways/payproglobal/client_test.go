package payproglobal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
)

const testSecret = "ppg-secret"

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(config.PayProGlobalConfig{
		VendorAccountID: "9001",
		SecretKey:       testSecret,
		BaseURL:         baseURL,
	}, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestParseSuccessCallbackValidChecksum(t *testing.T) {
	client := newTestClient(t, "http://unused")

	values := url.Values{}
	values.Set("ORDER_ID", "ref-31")
	values.Set("AMOUNT", "49.50")
	values.Set("CURRENCY_CODE", "gbp")
	values.Set("SUBSCRIPTION_ID", "77001")
	values.Set("CUSTOMER_EMAIL", "jo@example.com")
	values.Set("checksum", Checksum("ref-31", testSecret))

	event, err := client.ParseSuccessCallback(context.Background(), values)
	if err != nil {
		t.Fatalf("ParseSuccessCallback: %v", err)
	}
	if event.Type != enums.EventPaymentSucceeded {
		t.Fatalf("unexpected type %s", event.Type)
	}
	if event.OrderReference != "ref-31" {
		t.Fatalf("unexpected reference %s", event.OrderReference)
	}
	if event.SubscriptionID != "77001" {
		t.Fatalf("unexpected subscription %s", event.SubscriptionID)
	}
	if event.CurrencyCode != "GBP" {
		t.Fatalf("unexpected currency %s", event.CurrencyCode)
	}
	if event.ExternalEventID == "" {
		t.Fatal("expected external event id fallback")
	}
}

func TestParseSuccessCallbackChecksumMismatch(t *testing.T) {
	client := newTestClient(t, "http://unused")

	values := url.Values{}
	values.Set("ORDER_ID", "ref-31")
	values.Set("checksum", Checksum("ref-31", "wrong-secret"))

	_, err := client.ParseSuccessCallback(context.Background(), values)
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeInvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE, got %v", err)
	}
}

func TestParseSuccessCallbackUppercaseChecksumAccepted(t *testing.T) {
	client := newTestClient(t, "http://unused")

	values := url.Values{}
	values.Set("ORDER_ID", "ref-31")
	values.Set("checksum", strings.ToUpper(Checksum("ref-31", testSecret)))

	if _, err := client.ParseSuccessCallback(context.Background(), values); err != nil {
		t.Fatalf("expected case-insensitive checksum, got %v", err)
	}
}

func TestParseSuccessCallbackMissingReference(t *testing.T) {
	client := newTestClient(t, "http://unused")

	values := url.Values{}
	values.Set("checksum", Checksum("", testSecret))

	_, err := client.ParseSuccessCallback(context.Background(), values)
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
}

func TestParseWebhookMapsOrderStatus(t *testing.T) {
	client := newTestClient(t, "http://unused")

	cases := map[string]enums.EventType{
		"Processed":  enums.EventPaymentSucceeded,
		"Declined":   enums.EventPaymentFailed,
		"Chargeback": enums.EventPaymentFailed,
		"Cancelled":  enums.EventSubscriptionCancelled,
		"Waiting":    enums.EventTypeUnknown,
	}
	for status, want := range cases {
		values := url.Values{}
		values.Set("ORDER_ID", "ref-8")
		values.Set("ORDER_STATUS", status)
		values.Set("checksum", Checksum("ref-8", testSecret))

		event, err := client.ParseWebhook(context.Background(), []byte(values.Encode()), http.Header{})
		if err != nil {
			t.Fatalf("ParseWebhook(%s): %v", status, err)
		}
		if event.Type != want {
			t.Errorf("status %q mapped to %s, want %s", status, event.Type, want)
		}
	}
}

func TestCreateCheckoutBuildsHostedURL(t *testing.T) {
	client := newTestClient(t, "http://unused")
	pkg := &models.Package{ID: uuid.New(), ProductIDs: json.RawMessage(`{"payproglobal":"88231"}`)}
	user := &models.User{ID: uuid.New(), Email: "jo@example.com"}

	session, err := client.CreateCheckout(context.Background(), user, pkg, gateways.CheckoutOptions{
		Reference:    "ref-90",
		AffiliateRef: "aff-2",
	})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}

	parsed, err := url.Parse(session.RedirectURL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	query := parsed.Query()
	if query.Get("products[1][id]") != "88231" {
		t.Errorf("unexpected product id %s", query.Get("products[1][id]"))
	}
	if query.Get("x-reference") != "ref-90" {
		t.Errorf("unexpected reference %s", query.Get("x-reference"))
	}
	if query.Get("x-affiliate") != "aff-2" {
		t.Errorf("unexpected affiliate %s", query.Get("x-affiliate"))
	}
}

func TestCreateCheckoutMissingProductMapping(t *testing.T) {
	client := newTestClient(t, "http://unused")
	pkg := &models.Package{ID: uuid.New(), ProductIDs: json.RawMessage(`{}`)}

	_, err := client.CreateCheckout(context.Background(), &models.User{ID: uuid.New()}, pkg, gateways.CheckoutOptions{Reference: "r"})
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeInvalidProductMapping {
		t.Fatalf("expected INVALID_PRODUCT_MAPPING, got %v", err)
	}
}

func TestVerifyTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Orders/GetOrderDetails" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["vendorAccountId"] != "9001" {
			t.Errorf("unexpected vendor account %v", body["vendorAccountId"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"response": map[string]any{
				"orderId":            42,
				"orderStatusName":    "Processed",
				"subscriptionId":     7,
				"orderTotalPrice":    "49.50",
				"orderCurrencyCode":  "usd",
				"orderPlacedTimeUtc": "2026-05-30 10:00:00",
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	details, err := client.VerifyTransaction(context.Background(), "42")
	if err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}
	if !details.Paid || details.Failed {
		t.Fatalf("expected paid details, got %+v", details)
	}
	if details.TransactionID != "42" || details.SubscriptionID != "7" {
		t.Fatalf("unexpected ids %+v", details)
	}
	if details.Amount == nil || details.Amount.String() != "49.5" {
		t.Fatalf("unexpected amount %v", details.Amount)
	}
}

func TestVerifyTransactionUnknownOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"isSuccess": false})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	details, err := client.VerifyTransaction(context.Background(), "missing")
	if err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}
	if details != nil {
		t.Fatalf("expected nil details, got %+v", details)
	}
}

func TestChangePlanUnsupported(t *testing.T) {
	client := newTestClient(t, "http://unused")

	_, err := client.ChangePlan(context.Background(), "sub-1", "88231", enums.ProrationImmediate)
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeProrationUnsupported {
		t.Fatalf("expected PRORATION_UNSUPPORTED, got %v", err)
	}
}

func TestCancelSubscriptionAlreadyTerminated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": false,
			"errors":    []string{"Subscription already terminated"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.CancelSubscription(context.Background(), "sub-1", "switching providers")
	if err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if !result.AlreadyCancelled {
		t.Fatalf("expected AlreadyCancelled, got %+v", result)
	}
}
