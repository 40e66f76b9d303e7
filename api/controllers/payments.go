package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/nivenlabs/subflow-backend/api/responses"
	"github.com/nivenlabs/subflow-backend/internal/events"
	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/internal/orchestrator"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

// PaymentConfirmer applies a payment_succeeded event idempotently.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, event *events.CanonicalEvent) (*orchestrator.ConfirmResult, error)
}

// CallbackAuditStore records success-callback payloads alongside
// webhook deliveries in the same audit table.
type CallbackAuditStore interface {
	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
}

type paymentSuccessResponse struct {
	Confirmed        bool   `json:"confirmed"`
	OrderID          string `json:"order_id,omitempty"`
	SubscriptionID   string `json:"subscription_id,omitempty"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// PaymentSuccess handles the browser redirect after a hosted checkout.
// Redirect parameters are attacker-visible, so nothing is confirmed on
// their say-so alone: checksum-signed callbacks (PayProGlobal) arrive
// verified from the client, and unsigned ones (FastSpring, Paddle) are
// corroborated against the gateway's transaction API first. Callbacks
// that cannot be corroborated are acknowledged without confirming; the
// provider webhook or the reconcile sweep completes the order.
// Confirmation is idempotent, so racing the webhook is harmless.
func PaymentSuccess(registry *gateways.Registry, svc PaymentConfirmer, audit CallbackAuditStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if registry == nil || svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment confirmation unavailable"))
			return
		}

		values, err := callbackValues(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable callback parameters"))
			return
		}

		name, err := resolveCallbackGateway(values)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		client, err := registry.Get(name)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		event, err := client.ParseSuccessCallback(ctx, values)
		if err != nil {
			recordCallbackAudit(ctx, audit, logg, &models.WebhookEvent{
				Gateway:    name,
				EventType:  enums.EventTypeUnknown,
				RawPayload: encodedValues(values),
				Outcome:    enums.WebhookOutcomeFailed,
				Error:      callbackErrString(err),
			})
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if !event.Verified {
			corroborated, err := corroborateCallback(ctx, client, event)
			if err != nil {
				recordCallbackAudit(ctx, audit, logg, &models.WebhookEvent{
					Gateway:         name,
					EventType:       event.Type,
					ExternalEventID: event.ExternalEventID,
					RawPayload:      encodedValues(values),
					Outcome:         enums.WebhookOutcomeFailed,
					Error:           callbackErrString(err),
				})
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if corroborated == nil {
				// The gateway could not vouch for this payment yet.
				// Acknowledge the redirect; the webhook or the
				// reconcile sweep completes the order.
				recordCallbackAudit(ctx, audit, logg, &models.WebhookEvent{
					Gateway:         name,
					EventType:       event.Type,
					ExternalEventID: event.ExternalEventID,
					RawPayload:      encodedValues(values),
					Outcome:         enums.WebhookOutcomeIgnored,
				})
				responses.WriteSuccess(w, paymentSuccessResponse{Confirmed: false})
				return
			}
			event = corroborated
		}

		auditRow := &models.WebhookEvent{
			Gateway:         name,
			EventType:       event.Type,
			ExternalEventID: event.ExternalEventID,
			RawPayload:      encodedValues(values),
		}
		if event.SubscriptionID != "" {
			id := event.SubscriptionID
			auditRow.SubscriptionID = &id
		}
		if event.OrderReference != "" {
			ref := event.OrderReference
			auditRow.OrderReference = &ref
		}

		result, err := svc.ConfirmPayment(ctx, event)
		if err != nil {
			auditRow.Outcome = enums.WebhookOutcomeFailed
			auditRow.Error = callbackErrString(err)
			recordCallbackAudit(ctx, audit, logg, auditRow)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		auditRow.Outcome = enums.WebhookOutcomeProcessed
		if result.AlreadyProcessed {
			auditRow.Outcome = enums.WebhookOutcomeDuplicate
		}
		recordCallbackAudit(ctx, audit, logg, auditRow)

		responses.WriteSuccess(w, paymentSuccessResponse{
			Confirmed:        true,
			OrderID:          result.OrderID,
			SubscriptionID:   result.SubscriptionID,
			AlreadyProcessed: result.AlreadyProcessed,
		})
	}
}

// corroborateCallback asks the gateway's transaction API whether the
// payment an unsigned redirect claims actually settled. It returns a
// verified event built only from gateway-reported data, or nil when the
// gateway cannot vouch for it. The redirect's own order reference is
// never trusted: a forged reference with a real paid transaction id
// must not complete someone else's order.
func corroborateCallback(ctx context.Context, client gateways.Client, event *events.CanonicalEvent) (*events.CanonicalEvent, error) {
	if event.TransactionID == "" {
		return nil, nil
	}
	details, err := client.VerifyTransaction(ctx, event.TransactionID)
	if err != nil {
		return nil, err
	}
	if details == nil || !details.Paid || details.Reference == "" {
		return nil, nil
	}
	return &events.CanonicalEvent{
		Gateway:         event.Gateway,
		Type:            enums.EventPaymentSucceeded,
		ExternalEventID: event.ExternalEventID,
		SubscriptionID:  details.SubscriptionID,
		OrderReference:  details.Reference,
		TransactionID:   details.TransactionID,
		Amount:          details.Amount,
		CurrencyCode:    details.CurrencyCode,
		OccurredAt:      details.OccurredAt,
		Verified:        true,
	}, nil
}

func callbackValues(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.Form, nil
}

// resolveCallbackGateway prefers the explicit gateway parameter our
// success URLs carry and falls back to provider-distinctive parameter
// names for URLs configured before the parameter existed.
func resolveCallbackGateway(values url.Values) (enums.GatewayName, error) {
	if raw := values.Get("gateway"); raw != "" {
		name, err := enums.ParseGatewayName(raw)
		if err != nil {
			return "", pkgerrors.New(pkgerrors.CodeUnsupportedGateway, "unsupported gateway").
				WithDetails(map[string]any{"gateway": raw})
		}
		return name, nil
	}
	if values.Get("checksum") != "" {
		return enums.GatewayPayProGlobal, nil
	}
	if values.Get("orderId") != "" {
		return enums.GatewayFastSpring, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "callback names no gateway")
}

func encodedValues(values url.Values) json.RawMessage {
	flat := make(map[string]string, len(values))
	for key := range values {
		flat[key] = values.Get(key)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func recordCallbackAudit(ctx context.Context, audit CallbackAuditStore, logg *logger.Logger, row *models.WebhookEvent) {
	if audit == nil {
		return
	}
	if err := audit.RecordWebhookEvent(ctx, row); err != nil && logg != nil {
		logg.Error(logg.WithGateway(ctx, string(row.Gateway)), "record callback audit row failed", err)
	}
}

func callbackErrString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
