package subscriptions

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/api/middleware"
	"github.com/nivenlabs/subflow-backend/api/responses"
	"github.com/nivenlabs/subflow-backend/api/validators"
	"github.com/nivenlabs/subflow-backend/internal/orchestrator"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

// LifecycleService covers the user-initiated subscription transitions.
type LifecycleService interface {
	Cancel(ctx context.Context, userID uuid.UUID, reason string) (*orchestrator.CancelOutcome, error)
	Upgrade(ctx context.Context, userID, newPackageID uuid.UUID) (*orchestrator.PlanChange, error)
	Downgrade(ctx context.Context, userID, newPackageID uuid.UUID) (*orchestrator.PlanChange, error)
}

// Reader is the subscription read surface.
type Reader interface {
	ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
}

type subscriptionResponse struct {
	ID                     uuid.UUID  `json:"id"`
	Gateway                string     `json:"gateway"`
	ProviderSubscriptionID string     `json:"provider_subscription_id"`
	Status                 string     `json:"status"`
	PackageID              uuid.UUID  `json:"package_id"`
	CurrentPeriodStart     *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	CancelEffectiveAt      *time.Time `json:"cancel_effective_at,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type cancelResponse struct {
	SubscriptionID   string     `json:"subscription_id"`
	AlreadyCancelled bool       `json:"already_cancelled"`
	EffectiveAt      *time.Time `json:"effective_at,omitempty"`
}

type planChangeRequest struct {
	PackageID uuid.UUID `json:"package_id" validate:"required"`
}

type planChangeResponse struct {
	SubscriptionID string    `json:"subscription_id"`
	PackageID      uuid.UUID `json:"package_id"`
	Prorated       bool      `json:"prorated"`
	EffectiveAt    time.Time `json:"effective_at"`
}

// List returns the caller's subscriptions, newest first.
func List(svc Reader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID, err := authenticatedUser(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		subs, err := svc.ListUserSubscriptions(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]subscriptionResponse, 0, len(subs))
		for i := range subs {
			out = append(out, newSubscriptionResponse(&subs[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Cancel ends the caller's subscription. Repeat submissions succeed
// with already_cancelled set.
func Cancel(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := authenticatedUser(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// The reason is optional and so is the body.
		var payload cancelRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		outcome, err := svc.Cancel(ctx, userID, payload.Reason)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, cancelResponse{
			SubscriptionID:   outcome.SubscriptionID,
			AlreadyCancelled: outcome.AlreadyCancelled,
			EffectiveAt:      outcome.EffectiveAt,
		})
	}
}

// Upgrade switches the caller to a new package with immediate proration.
func Upgrade(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return planChange(svc, logg, func(ctx context.Context, userID, packageID uuid.UUID) (*orchestrator.PlanChange, error) {
		return svc.Upgrade(ctx, userID, packageID)
	})
}

// Downgrade defers the package switch to the next billing period.
func Downgrade(svc LifecycleService, logg *logger.Logger) http.HandlerFunc {
	return planChange(svc, logg, func(ctx context.Context, userID, packageID uuid.UUID) (*orchestrator.PlanChange, error) {
		return svc.Downgrade(ctx, userID, packageID)
	})
}

func planChange(svc LifecycleService, logg *logger.Logger, apply func(ctx context.Context, userID, packageID uuid.UUID) (*orchestrator.PlanChange, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := authenticatedUser(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload planChangeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		change, err := apply(ctx, userID, payload.PackageID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, planChangeResponse{
			SubscriptionID: change.SubscriptionID,
			PackageID:      change.PackageID,
			Prorated:       change.Prorated,
			EffectiveAt:    change.EffectiveAt,
		})
	}
}

func authenticatedUser(ctx context.Context) (uuid.UUID, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	return userID, nil
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                     sub.ID,
		Gateway:                string(sub.Gateway),
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		Status:                 string(sub.Status),
		PackageID:              sub.PackageID,
		CurrentPeriodStart:     sub.CurrentPeriodStart,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd,
		CancelledAt:            sub.CancelledAt,
		CancelEffectiveAt:      sub.CancelEffectiveAt,
	}
}
