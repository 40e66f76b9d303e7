package orchestrator

import (
	"context"
	"time"

	"github.com/nivenlabs/subflow-backend/internal/events"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
)

// ReconcileOutcome classifies what the sweep did with a pending order.
type ReconcileOutcome string

const (
	ReconcileConfirmed ReconcileOutcome = "confirmed"
	ReconcileFailed    ReconcileOutcome = "failed"
	ReconcileUnknown   ReconcileOutcome = "unknown"
)

// ReconcilePendingOrder asks the issuing gateway for the authoritative
// transaction state of a stale pending order and applies the matching
// transition. Unknown orders (abandoned checkouts) are left pending for
// the job's expiry policy.
func (s *Service) ReconcilePendingOrder(ctx context.Context, order *models.Order) (ReconcileOutcome, error) {
	client, err := s.registry.Get(order.Gateway)
	if err != nil {
		return ReconcileUnknown, err
	}

	lookupID := order.CheckoutReference
	if order.ExternalTransactionID != nil && *order.ExternalTransactionID != "" {
		lookupID = *order.ExternalTransactionID
	}

	var details *gatewayTransaction
	err = s.retry.Do(ctx, "verify_transaction", func(ctx context.Context) error {
		found, attemptErr := client.VerifyTransaction(ctx, lookupID)
		if attemptErr != nil {
			return attemptErr
		}
		if found != nil {
			details = &gatewayTransaction{
				TransactionID:  found.TransactionID,
				SubscriptionID: found.SubscriptionID,
				Paid:           found.Paid,
				Failed:         found.Failed,
				OccurredAt:     found.OccurredAt,
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileUnknown, err
	}
	if details == nil {
		return ReconcileUnknown, nil
	}

	event := &events.CanonicalEvent{
		Gateway:        order.Gateway,
		TransactionID:  details.TransactionID,
		SubscriptionID: details.SubscriptionID,
		OrderReference: order.CheckoutReference,
		OccurredAt:     details.OccurredAt,
	}

	switch {
	case details.Paid:
		event.Type = enums.EventPaymentSucceeded
		if _, err := s.ConfirmPayment(ctx, event); err != nil {
			return ReconcileUnknown, err
		}
		return ReconcileConfirmed, nil
	case details.Failed:
		event.Type = enums.EventPaymentFailed
		if err := s.HandlePaymentFailed(ctx, event); err != nil {
			return ReconcileUnknown, err
		}
		return ReconcileFailed, nil
	default:
		return ReconcileUnknown, nil
	}
}

type gatewayTransaction struct {
	TransactionID  string
	SubscriptionID string
	Paid           bool
	Failed         bool
	OccurredAt     time.Time
}
