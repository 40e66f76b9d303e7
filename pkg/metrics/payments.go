package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records checkout, webhook and lifecycle activity per gateway.
type PaymentMetrics struct {
	checkouts       *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	confirmations   *prometheus.CounterVec
	retryAttempts   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout sessions created per gateway.",
	}, []string{"gateway"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook events received per gateway, event type and outcome.",
	}, []string{"gateway", "event_type", "outcome"})
	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmations_total",
		Help: "Payment confirmations per gateway and resulting order status.",
	}, []string{"gateway", "status"})
	retryAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Retry attempts per operation.",
	}, []string{"operation"})
	webhookDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "Webhook processing duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})
	reg.MustRegister(checkouts, webhooks, confirmations, retryAttempts, webhookDuration)
	return &PaymentMetrics{
		checkouts:       checkouts,
		webhooks:        webhooks,
		confirmations:   confirmations,
		retryAttempts:   retryAttempts,
		webhookDuration: webhookDuration,
	}
}

// IncCheckout counts a created checkout session for the gateway.
func (p *PaymentMetrics) IncCheckout(gateway string) {
	if p == nil || p.checkouts == nil {
		return
	}
	p.checkouts.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// IncWebhook counts a received webhook with its resolved event type and outcome.
func (p *PaymentMetrics) IncWebhook(gateway, eventType, outcome string) {
	if p == nil || p.webhooks == nil {
		return
	}
	p.webhooks.WithLabelValues(normalizeLabel(gateway), normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncConfirmation counts a payment confirmation and the order status it produced.
func (p *PaymentMetrics) IncConfirmation(gateway, status string) {
	if p == nil || p.confirmations == nil {
		return
	}
	p.confirmations.WithLabelValues(normalizeLabel(gateway), normalizeLabel(status)).Inc()
}

// IncRetryAttempt counts one retry attempt for the named operation.
func (p *PaymentMetrics) IncRetryAttempt(operation string) {
	if p == nil || p.retryAttempts == nil {
		return
	}
	p.retryAttempts.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveWebhookDuration records webhook handling time for the gateway.
func (p *PaymentMetrics) ObserveWebhookDuration(gateway string, duration time.Duration) {
	if p == nil || p.webhookDuration == nil {
		return
	}
	p.webhookDuration.WithLabelValues(normalizeLabel(gateway)).Observe(duration.Seconds())
}
