package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/api/middleware"
	"github.com/nivenlabs/subflow-backend/api/responses"
	"github.com/nivenlabs/subflow-backend/internal/orchestrator"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

// autoGatewaySegment lets clients defer provider selection to the
// sticky-binding and admin-active resolution chain.
const autoGatewaySegment = "auto"

type CheckoutService interface {
	InitiateCheckout(ctx context.Context, userID, packageID uuid.UUID, explicitGateway *enums.GatewayName) (*orchestrator.CheckoutResult, error)
}

type checkoutResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	Reference   string    `json:"reference"`
	Gateway     string    `json:"gateway"`
	RedirectURL string    `json:"redirect_url"`
}

// Checkout creates a pending order and returns the provider redirect URL.
func Checkout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context"))
			return
		}

		packageID, err := uuid.Parse(chi.URLParam(r, "package"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid package id"))
			return
		}

		var explicit *enums.GatewayName
		if segment := chi.URLParam(r, "gateway"); segment != autoGatewaySegment {
			name, parseErr := enums.ParseGatewayName(segment)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnsupportedGateway, "unsupported gateway").
					WithDetails(map[string]any{"gateway": segment}))
				return
			}
			explicit = &name
		}

		result, err := svc.InitiateCheckout(ctx, userID, packageID, explicit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			OrderID:     result.OrderID,
			Reference:   result.Reference,
			Gateway:     string(result.Gateway),
			RedirectURL: result.RedirectURL,
		})
	}
}
