package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nivenlabs/subflow-backend/internal/events"
	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/outbox"
	"github.com/nivenlabs/subflow-backend/pkg/outbox/payloads"
)

// ProcessEvent dispatches a canonical event to the matching transition.
// Unknown event types are logged and acknowledged so providers stop
// retrying them.
func (s *Service) ProcessEvent(ctx context.Context, event *events.CanonicalEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "nil event")
	}

	switch event.Type {
	case enums.EventPaymentSucceeded:
		_, err := s.ConfirmPayment(ctx, event)
		return err
	case enums.EventPaymentFailed:
		return s.HandlePaymentFailed(ctx, event)
	case enums.EventSubscriptionCancelled:
		return s.HandleSubscriptionCancelled(ctx, event)
	case enums.EventSubscriptionUpdated:
		return s.HandleSubscriptionUpdated(ctx, event)
	default:
		if s.logg != nil {
			logCtx := s.logg.WithGateway(ctx, string(event.Gateway))
			s.logg.Warn(s.logg.WithField(logCtx, "external_event_id", event.ExternalEventID), "ignoring unknown event type")
		}
		return nil
	}
}

// HandlePaymentFailed moves the subscription to past_due. Access is not
// revoked here; the grace period is policy owned elsewhere.
func (s *Service) HandlePaymentFailed(ctx context.Context, event *events.CanonicalEvent) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var order *models.Order
		if event.OrderReference != "" {
			var err error
			order, err = repo.FindOrderByReferenceForUpdate(ctx, event.OrderReference)
			if err != nil {
				return err
			}
		}
		if order != nil && order.Status == enums.OrderStatusPending {
			now := time.Now().UTC()
			order.Status = enums.OrderStatusFailed
			order.FailedAt = &now
			if event.TransactionID != "" {
				order.ExternalTransactionID = &event.TransactionID
			}
			if err := repo.UpdateOrder(ctx, order); err != nil {
				return err
			}
		}

		var subscription *models.Subscription
		if event.SubscriptionID != "" {
			var err error
			subscription, err = repo.FindSubscriptionByProviderID(ctx, event.SubscriptionID)
			if err != nil {
				return err
			}
		}
		if subscription != nil && subscription.Status == enums.SubscriptionStatusActive {
			subscription.Status = enums.SubscriptionStatusPastDue
			if err := repo.UpdateSubscription(ctx, subscription); err != nil {
				return err
			}
		}

		// Nothing to notify about if we cannot attribute the failure.
		if order == nil && subscription == nil {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithGateway(ctx, string(event.Gateway)), "payment_failed event matched no order or subscription")
			}
			return nil
		}

		notice := payloads.PaymentFailureNoticeEvent{
			Gateway:  event.Gateway,
			Reason:   "payment_failed",
			FailedAt: time.Now().UTC(),
		}
		aggregateID := uuid.Nil
		if order != nil {
			notice.OrderID = order.ID
			notice.UserID = order.UserID
			aggregateID = order.ID
		}
		if subscription != nil {
			id := subscription.ProviderSubscriptionID
			notice.SubscriptionID = &id
			notice.UserID = subscription.UserID
			if aggregateID == uuid.Nil {
				aggregateID = subscription.ID
			}
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailureNotice,
			AggregateType: enums.AggregateOrder,
			AggregateID:   aggregateID,
			Data:          notice,
		}); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.IncConfirmation(string(event.Gateway), "failed")
		}
		return nil
	})
}

// HandleSubscriptionCancelled applies a provider-initiated cancellation.
func (s *Service) HandleSubscriptionCancelled(ctx context.Context, event *events.CanonicalEvent) error {
	if event.SubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cancellation event carries no subscription id")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindSubscriptionByProviderID(ctx, event.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithSubscriptionID(ctx, event.SubscriptionID), "cancellation for unknown subscription")
			}
			return nil
		}
		if subscription.Status == enums.SubscriptionStatusCancelled {
			return nil
		}
		return s.markCancelled(ctx, tx, subscription, "provider_cancelled", nil)
	})
}

// HandleSubscriptionUpdated refreshes period boundaries from the
// provider's update notification.
func (s *Service) HandleSubscriptionUpdated(ctx context.Context, event *events.CanonicalEvent) error {
	if event.SubscriptionID == "" {
		return nil
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindSubscriptionByProviderID(ctx, event.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil || subscription.Status == enums.SubscriptionStatusCancelled {
			return nil
		}
		if !event.OccurredAt.IsZero() {
			occurredAt := event.OccurredAt
			subscription.CurrentPeriodStart = &occurredAt
		}
		return repo.UpdateSubscription(ctx, subscription)
	})
}

// PlanChange is the outcome of an upgrade or downgrade.
type PlanChange struct {
	SubscriptionID string
	PackageID      uuid.UUID
	Prorated       bool
	EffectiveAt    time.Time
}

// Upgrade moves the user's subscription to a higher package with
// immediate proration.
func (s *Service) Upgrade(ctx context.Context, userID, newPackageID uuid.UUID) (*PlanChange, error) {
	return s.changePlan(ctx, userID, newPackageID, enums.ProrationImmediate)
}

// Downgrade defers the package switch to the next billing period.
func (s *Service) Downgrade(ctx context.Context, userID, newPackageID uuid.UUID) (*PlanChange, error) {
	return s.changePlan(ctx, userID, newPackageID, enums.ProrationNextPeriod)
}

func (s *Service) changePlan(ctx context.Context, userID, newPackageID uuid.UUID, proration enums.ProrationMode) (*PlanChange, error) {
	subscription, err := s.repo.FindActiveSubscriptionForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	if subscription.Status != enums.SubscriptionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not active").
			WithDetails(map[string]any{"status": string(subscription.Status)})
	}

	pkg, err := s.repo.FindPackageByID(ctx, newPackageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil || !pkg.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "package not found")
	}

	client, err := s.registry.Get(subscription.Gateway)
	if err != nil {
		return nil, err
	}

	// The new package must be mapped on the bound gateway before any
	// provider call goes out.
	productID := pkg.ProductIDFor(subscription.Gateway)
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidProductMapping, "package has no product mapping for bound gateway").
			WithDetails(map[string]any{
				"package_id": pkg.ID.String(),
				"gateway":    string(subscription.Gateway),
			})
	}

	var result *gateways.PlanChangeResult
	err = s.retry.Do(ctx, "change_plan", func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = client.ChangePlan(ctx, subscription.ProviderSubscriptionID, productID, proration)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription.PackageID = pkg.ID
		subscription.Status = enums.SubscriptionStatusActive
		return repo.UpdateSubscription(ctx, subscription)
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithSubscriptionID(ctx, subscription.ProviderSubscriptionID)
		s.logg.Info(s.logg.WithField(logCtx, "package_id", pkg.ID.String()), "plan change applied")
	}

	return &PlanChange{
		SubscriptionID: subscription.ProviderSubscriptionID,
		PackageID:      pkg.ID,
		Prorated:       result.Prorated,
		EffectiveAt:    result.EffectiveAt,
	}, nil
}

// CancelOutcome reports a cancellation.
type CancelOutcome struct {
	SubscriptionID   string
	AlreadyCancelled bool
	EffectiveAt      *time.Time
}

// Cancel ends the user's subscription. Cancelling an already-cancelled
// subscription is a no-op success; clients double-submit.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID, reason string) (*CancelOutcome, error) {
	subscription, err := s.repo.FindActiveSubscriptionForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		subs, err := s.repo.ListSubscriptionsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i := range subs {
			if subs[i].Status == enums.SubscriptionStatusCancelled {
				return &CancelOutcome{
					SubscriptionID:   subs[i].ProviderSubscriptionID,
					AlreadyCancelled: true,
					EffectiveAt:      subs[i].CancelEffectiveAt,
				}, nil
			}
		}
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription to cancel")
	}

	client, err := s.registry.Get(subscription.Gateway)
	if err != nil {
		return nil, err
	}

	var result *gateways.CancelResult
	err = s.retry.Do(ctx, "cancel_subscription", func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = client.CancelSubscription(ctx, subscription.ProviderSubscriptionID, reason)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	var effectiveAt *time.Time
	if result.EffectiveAt != nil {
		effectiveAt = result.EffectiveAt
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.markCancelled(ctx, tx, subscription, reason, effectiveAt)
	})
	if err != nil {
		return nil, err
	}

	return &CancelOutcome{
		SubscriptionID:   subscription.ProviderSubscriptionID,
		AlreadyCancelled: result.AlreadyCancelled,
		EffectiveAt:      subscription.CancelEffectiveAt,
	}, nil
}

// markCancelled persists the cancelled state and emits the termination
// and exit-survey events in the same transaction.
func (s *Service) markCancelled(ctx context.Context, tx *gorm.DB, subscription *models.Subscription, reason string, effectiveAt *time.Time) error {
	repo := s.repo.WithTx(tx)

	now := time.Now().UTC()
	subscription.Status = enums.SubscriptionStatusCancelled
	subscription.CancelledAt = &now
	if reason != "" {
		subscription.CancelReason = &reason
	}
	if effectiveAt != nil {
		subscription.CancelEffectiveAt = effectiveAt
	} else if subscription.CancelEffectiveAt == nil {
		// Without a provider-supplied date, access runs to the period
		// end when known, otherwise ends now.
		if subscription.CurrentPeriodEnd != nil {
			subscription.CancelEffectiveAt = subscription.CurrentPeriodEnd
		} else {
			subscription.CancelEffectiveAt = &now
		}
	}
	if err := repo.UpdateSubscription(ctx, subscription); err != nil {
		return err
	}

	if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionTerminated,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   subscription.ID,
		Data: payloads.SubscriptionTerminatedEvent{
			SubscriptionID: subscription.ID,
			UserID:         subscription.UserID,
			Gateway:        subscription.Gateway,
			Reason:         reason,
			EffectiveAt:    subscription.CancelEffectiveAt,
			CancelledAt:    now,
		},
	}); err != nil {
		return err
	}

	user, err := repo.FindUserByID(ctx, subscription.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCancellationExitSurvey,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   subscription.ID,
		Data: payloads.CancellationExitSurveyEvent{
			SubscriptionID: subscription.ID,
			UserID:         user.ID,
			Email:          user.Email,
			Reason:         reason,
		},
	})
}
