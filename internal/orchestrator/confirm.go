package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/internal/events"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/outbox"
	"github.com/nivenlabs/subflow-backend/pkg/outbox/payloads"
)

var centsFactor = decimal.NewFromInt(100)

// ConfirmResult reports what a confirmation did.
type ConfirmResult struct {
	OrderID          string
	SubscriptionID   string
	AlreadyProcessed bool
	FirstActivation  bool
}

// ConfirmPayment applies a payment_succeeded event. Idempotent on the
// external transaction id: replays and duplicate deliveries return the
// prior outcome without re-granting anything. The order row lock taken
// inside the transaction serializes concurrent deliveries for the same
// checkout.
func (s *Service) ConfirmPayment(ctx context.Context, event *events.CanonicalEvent) (*ConfirmResult, error) {
	if event == nil || (event.OrderReference == "" && event.TransactionID == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event carries no order reference or transaction id")
	}

	result := &ConfirmResult{}
	var user *models.User
	var order *models.Order

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		// Replay check first: a transaction id we have already recorded
		// means this exact payment was applied.
		if event.TransactionID != "" {
			existing, err := repo.FindOrderByExternalTransactionID(ctx, event.TransactionID)
			if err != nil {
				return err
			}
			if existing != nil && existing.Status == enums.OrderStatusCompleted {
				result.OrderID = existing.ID.String()
				if existing.ExternalSubscriptionID != nil {
					result.SubscriptionID = *existing.ExternalSubscriptionID
				}
				result.AlreadyProcessed = true
				return nil
			}
		}

		var err error
		order, err = repo.FindOrderByReferenceForUpdate(ctx, event.OrderReference)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no order for reference").
				WithDetails(map[string]any{"reference": event.OrderReference})
		}
		result.OrderID = order.ID.String()

		if order.Status == enums.OrderStatusCompleted {
			result.AlreadyProcessed = true
			if order.ExternalSubscriptionID != nil {
				result.SubscriptionID = *order.ExternalSubscriptionID
			}
			return nil
		}
		if order.Status == enums.OrderStatusFailed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already failed").
				WithDetails(map[string]any{"order_id": order.ID.String()})
		}
		if event.Gateway != "" && event.Gateway != order.Gateway {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "event gateway does not match order gateway")
		}

		user, err = repo.FindUserByID(ctx, order.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "order references missing user")
		}

		now := time.Now().UTC()
		order.Status = enums.OrderStatusCompleted
		order.CompletedAt = &now
		if event.TransactionID != "" {
			order.ExternalTransactionID = &event.TransactionID
		}
		if event.SubscriptionID != "" {
			order.ExternalSubscriptionID = &event.SubscriptionID
		}
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return err
		}

		subscription, err := s.applySubscriptionActivation(ctx, repo, order, user, event)
		if err != nil {
			return err
		}
		result.SubscriptionID = subscription.ProviderSubscriptionID

		// Sticky binding: the first completed order fixes the user's
		// gateway. Never reassigned afterwards.
		if user.Gateway == nil {
			gateway := order.Gateway
			user.Gateway = &gateway
		}
		result.FirstActivation = user.TenantID == nil
		if !user.Verified {
			user.Verified = true
		}
		if err := repo.UpdateUser(ctx, user); err != nil {
			return err
		}

		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntitlementActivated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   subscription.ID,
			Data: payloads.EntitlementActivatedEvent{
				SubscriptionID: subscription.ID,
				UserID:         user.ID,
				PackageID:      order.PackageID,
				Gateway:        order.Gateway,
				TenantID:       user.TenantID,
				ActivatedAt:    now,
			},
		}); err != nil {
			return err
		}

		if user.AffiliateRef != nil && *user.AffiliateRef != "" {
			if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventAffiliateConversion,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.AffiliateConversionEvent{
					OrderID:      order.ID,
					UserID:       user.ID,
					Gateway:      order.Gateway,
					AffiliateRef: *user.AffiliateRef,
					AmountCents:  order.Amount.Mul(centsFactor).IntPart(),
					CurrencyCode: order.CurrencyCode,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if s.metrics != nil && event.Gateway != "" {
			s.metrics.IncConfirmation(string(event.Gateway), "error")
		}
		return nil, err
	}

	if result.AlreadyProcessed {
		if s.metrics != nil && event.Gateway != "" {
			s.metrics.IncConfirmation(string(event.Gateway), "duplicate")
		}
		return result, nil
	}

	if s.metrics != nil {
		s.metrics.IncConfirmation(string(order.Gateway), "completed")
	}

	// Provisioning talks to external services and must not run while the
	// order row lock is held. Partial failure leaves the user active
	// with a pending marker; the outbox retry event picks it up later.
	if result.FirstActivation {
		s.provisionFirstActivation(ctx, user, order, result.SubscriptionID)
	} else if user.AffiliateRef != nil {
		s.notifyAffiliate(ctx, user, order)
	}

	return result, nil
}

// applySubscriptionActivation creates or reactivates the canonical
// subscription row for the confirmed order.
func (s *Service) applySubscriptionActivation(ctx context.Context, repo billing.Repository, order *models.Order, user *models.User, event *events.CanonicalEvent) (*models.Subscription, error) {
	providerSubscriptionID := event.SubscriptionID
	if providerSubscriptionID == "" && order.ExternalSubscriptionID != nil {
		providerSubscriptionID = *order.ExternalSubscriptionID
	}
	if providerSubscriptionID == "" {
		// One-off orders without a provider subscription id key the
		// subscription off the order itself.
		providerSubscriptionID = order.CheckoutReference
	}

	subscription, err := repo.FindSubscriptionByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return nil, err
	}

	start := event.OccurredAt
	if start.IsZero() {
		start = time.Now().UTC()
	}

	if subscription == nil {
		subscription = &models.Subscription{
			ID:                     uuid.New(),
			UserID:                 user.ID,
			Gateway:                order.Gateway,
			ProviderSubscriptionID: providerSubscriptionID,
			Status:                 enums.SubscriptionStatusActive,
			PackageID:              order.PackageID,
			CurrentPeriodStart:     &start,
		}
		return subscription, repo.CreateSubscription(ctx, subscription)
	}

	// Recovery path: past_due returns to active on the next successful
	// charge for the same subscription id.
	subscription.Status = enums.SubscriptionStatusActive
	subscription.PackageID = order.PackageID
	subscription.CurrentPeriodStart = &start
	return subscription, repo.UpdateSubscription(ctx, subscription)
}
