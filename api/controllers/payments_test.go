package controllers

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/nivenlabs/subflow-backend/internal/events"
	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
)

type verifyingClient struct {
	details *gateways.TransactionDetails
	err     error
	calls   int
}

func (c *verifyingClient) Name() enums.GatewayName { return enums.GatewayFastSpring }

func (c *verifyingClient) CreateCheckout(context.Context, *models.User, *models.Package, gateways.CheckoutOptions) (*gateways.CheckoutSession, error) {
	return nil, nil
}

func (c *verifyingClient) ParseWebhook(context.Context, []byte, http.Header) (*events.CanonicalEvent, error) {
	return nil, nil
}

func (c *verifyingClient) ParseSuccessCallback(context.Context, url.Values) (*events.CanonicalEvent, error) {
	return nil, nil
}

func (c *verifyingClient) VerifyTransaction(context.Context, string) (*gateways.TransactionDetails, error) {
	c.calls++
	return c.details, c.err
}

func (c *verifyingClient) ChangePlan(context.Context, string, string, enums.ProrationMode) (*gateways.PlanChangeResult, error) {
	return nil, nil
}

func (c *verifyingClient) CancelSubscription(context.Context, string, string) (*gateways.CancelResult, error) {
	return nil, nil
}

func callbackEvent(reference, txnID string) *events.CanonicalEvent {
	return &events.CanonicalEvent{
		Gateway:        enums.GatewayFastSpring,
		Type:           enums.EventPaymentSucceeded,
		OrderReference: reference,
		TransactionID:  txnID,
		OccurredAt:     time.Now().UTC(),
	}
}

func TestCorroborateCallbackUsesGatewayReportedReference(t *testing.T) {
	client := &verifyingClient{details: &gateways.TransactionDetails{
		TransactionID:  "txn-1",
		SubscriptionID: "sub-1",
		Reference:      "real-ref",
		Paid:           true,
		OccurredAt:     time.Now().UTC(),
	}}

	got, err := corroborateCallback(context.Background(), client, callbackEvent("forged-ref", "txn-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("paid transaction must corroborate")
	}
	if got.OrderReference != "real-ref" {
		t.Fatalf("confirmation must use the gateway's reference, got %q", got.OrderReference)
	}
	if !got.Verified {
		t.Fatal("corroborated event must be marked verified")
	}
}

func TestCorroborateCallbackRejectsUnpaidTransaction(t *testing.T) {
	client := &verifyingClient{details: &gateways.TransactionDetails{
		TransactionID: "txn-1",
		Reference:     "ref-1",
		Paid:          false,
	}}

	got, err := corroborateCallback(context.Background(), client, callbackEvent("ref-1", "txn-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("unpaid transaction must not corroborate")
	}
}

func TestCorroborateCallbackRequiresGatewayReference(t *testing.T) {
	client := &verifyingClient{details: &gateways.TransactionDetails{
		TransactionID: "txn-1",
		Paid:          true,
	}}

	got, err := corroborateCallback(context.Background(), client, callbackEvent("claimed-ref", "txn-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("a paid transaction without a gateway-side reference must not confirm a claimed one")
	}
}

func TestCorroborateCallbackSkipsWithoutTransactionID(t *testing.T) {
	client := &verifyingClient{}

	got, err := corroborateCallback(context.Background(), client, callbackEvent("ref-1", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("nothing to verify against, must not corroborate")
	}
	if client.calls != 0 {
		t.Fatal("no lookup without a transaction id")
	}
}

func TestResolveCallbackGateway(t *testing.T) {
	tests := []struct {
		name    string
		values  url.Values
		want    enums.GatewayName
		wantErr pkgerrors.Code
	}{
		{
			name:   "explicit parameter wins",
			values: url.Values{"gateway": {"paddle"}, "checksum": {"abc"}},
			want:   enums.GatewayPaddle,
		},
		{
			name:    "explicit parameter must be known",
			values:  url.Values{"gateway": {"braintree"}},
			wantErr: pkgerrors.CodeUnsupportedGateway,
		},
		{
			name:   "checksum marks payproglobal",
			values: url.Values{"checksum": {"abc"}},
			want:   enums.GatewayPayProGlobal,
		},
		{
			name:   "orderId marks fastspring",
			values: url.Values{"orderId": {"txn-1"}},
			want:   enums.GatewayFastSpring,
		},
		{
			name:    "unattributable callback is rejected",
			values:  url.Values{"foo": {"bar"}},
			wantErr: pkgerrors.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveCallbackGateway(tt.values)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				typed := pkgerrors.As(err)
				if typed == nil || typed.Code() != tt.wantErr {
					t.Fatalf("expected code %s, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s got %s", tt.want, got)
			}
		})
	}
}
