package events

import (
	"testing"
	"time"
)

func TestOrderReferenceAliasPriority(t *testing.T) {
	payload := Payload{
		"orderId":  "second",
		"OrderId":  "first",
		"ORDER_ID": "third",
	}
	if got := payload.OrderReference(); got != "first" {
		t.Fatalf("expected highest-priority alias, got %q", got)
	}
}

func TestOrderReferenceSingleAlias(t *testing.T) {
	payload := Payload{"OrderId": "123"}
	if got := payload.OrderReference(); got != "123" {
		t.Fatalf("expected 123, got %q", got)
	}
}

func TestOrderReferenceSkipsEmptyAlias(t *testing.T) {
	payload := Payload{
		"OrderId": "",
		"orderId": "fallback",
	}
	if got := payload.OrderReference(); got != "fallback" {
		t.Fatalf("expected fallback alias when first is empty, got %q", got)
	}
}

func TestMissingFieldsMapToZeroValues(t *testing.T) {
	payload := Payload{}
	if got := payload.OrderReference(); got != "" {
		t.Fatalf("expected empty order reference, got %q", got)
	}
	if got := payload.Amount(); got != nil {
		t.Fatalf("expected nil amount, got %v", got)
	}
	if got := payload.SubscriptionID(); got != "" {
		t.Fatalf("expected empty subscription id, got %q", got)
	}
}

func TestAmountParsing(t *testing.T) {
	payload := Payload{"amount": "19.99"}
	amount := payload.Amount()
	if amount == nil {
		t.Fatalf("expected parsed amount")
	}
	if amount.String() != "19.99" {
		t.Fatalf("unexpected amount %s", amount.String())
	}
}

func TestAmountFromJSONNumber(t *testing.T) {
	// encoding/json decodes numbers into float64
	payload := Payload{"amount": float64(25)}
	amount := payload.Amount()
	if amount == nil {
		t.Fatalf("expected parsed amount")
	}
	if amount.String() != "25" {
		t.Fatalf("unexpected amount %s", amount.String())
	}
}

func TestAmountUnparseableMapsToNil(t *testing.T) {
	payload := Payload{"amount": "free"}
	if got := payload.Amount(); got != nil {
		t.Fatalf("expected nil for unparseable amount, got %v", got)
	}
}

func TestCurrencyUppercased(t *testing.T) {
	payload := Payload{"currency": "usd"}
	if got := payload.CurrencyCode(); got != "USD" {
		t.Fatalf("expected USD, got %q", got)
	}
}

func TestOccurredAtFormats(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		value any
		want  time.Time
	}{
		{"rfc3339", "2025-05-30T10:00:00Z", time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC)},
		{"datetime", "2025-05-30 10:00:00", time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC)},
		{"date", "2025-05-30", time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC)},
		{"unix", "1748599200", time.Unix(1748599200, 0).UTC()},
		{"missing", nil, now},
		{"garbage", "not-a-time", now},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := Payload{}
			if tc.value != nil {
				payload["event_time"] = tc.value
			}
			if got := payload.OccurredAt(now); !got.Equal(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestOccurredAtAliasPriority(t *testing.T) {
	now := time.Now().UTC()
	payload := Payload{
		"timestamp":  "2025-01-01T00:00:00Z",
		"event_time": "2025-02-02T00:00:00Z",
	}
	want := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	if got := payload.OccurredAt(now); !got.Equal(want) {
		t.Fatalf("expected event_time to win, got %v", got)
	}
}
