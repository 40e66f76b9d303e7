package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPaymentMetricsExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPaymentMetrics(reg)

	metrics.IncCheckout("paddle")
	metrics.IncWebhook("paddle", "payment_succeeded", "processed")
	metrics.IncWebhook("paddle", "payment_succeeded", "duplicate")
	metrics.IncConfirmation("paddle", "completed")
	metrics.IncRetryAttempt("provisioning")
	metrics.ObserveWebhookDuration("paddle", 120*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "checkout_sessions_total", "gateway", "paddle"); err != nil {
		t.Fatalf("fetch checkouts: %v", err)
	} else if got != 1 {
		t.Fatalf("expected checkouts=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "webhook_events_total", "outcome", "duplicate"); err != nil {
		t.Fatalf("fetch webhooks: %v", err)
	} else if got != 1 {
		t.Fatalf("expected duplicate webhooks=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "payment_confirmations_total", "status", "completed"); err != nil {
		t.Fatalf("fetch confirmations: %v", err)
	} else if got != 1 {
		t.Fatalf("expected confirmations=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "webhook_processing_seconds", "gateway", "paddle"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestPaymentMetricsNilRegisterer(t *testing.T) {
	metrics := NewPaymentMetrics(nil)
	metrics.IncCheckout("fastspring")
	metrics.IncRetryAttempt("confirm_payment")
}
