package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/nivenlabs/subflow-backend/api/responses"
	"github.com/nivenlabs/subflow-backend/internal/events"
	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

// maxWebhookBody caps provider payload reads; real payloads are a few KB.
const maxWebhookBody = 1 << 20

// EventProcessor applies a canonical event to subscription state.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *events.CanonicalEvent) error
}

// Guard is the redis-backed delivery deduplicator.
type Guard interface {
	CheckAndMark(ctx context.Context, gateway, eventID string) (bool, error)
	Release(ctx context.Context, gateway, eventID string) error
}

// AuditStore records every received payload and answers the durable
// duplicate check when redis has already expired the mark.
type AuditStore interface {
	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	HasProcessedWebhookEvent(ctx context.Context, gateway enums.GatewayName, externalEventID string) (bool, error)
}

type webhookResponse struct {
	Outcome string `json:"outcome"`
}

// Receive handles one provider's webhook deliveries. The client owns
// signature verification and payload normalization; everything after
// that is gateway-agnostic. Unknown event types and duplicates are
// acknowledged with 2xx so the provider stops retrying them.
func Receive(client gateways.Client, svc EventProcessor, guard Guard, audit AuditStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if client == nil || svc == nil || audit == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		gateway := client.Name()
		event, err := client.ParseWebhook(ctx, payload, r.Header)
		if err != nil {
			// Rejected payloads still leave an audit trail; a burst of
			// signature failures is something operators want to see.
			recordAudit(ctx, audit, logg, &models.WebhookEvent{
				Gateway:    gateway,
				EventType:  enums.EventTypeUnknown,
				RawPayload: rawJSON(payload),
				Outcome:    enums.WebhookOutcomeFailed,
				Error:      errString(err),
			})
			responses.WriteError(ctx, logg, w, err)
			return
		}

		auditRow := newAuditRow(gateway, event)

		if event.IsUnknown() {
			auditRow.Outcome = enums.WebhookOutcomeIgnored
			recordAudit(ctx, audit, logg, auditRow)
			responses.WriteSuccess(w, webhookResponse{Outcome: string(enums.WebhookOutcomeIgnored)})
			return
		}

		seen, err := checkDuplicate(ctx, guard, audit, logg, gateway, event.ExternalEventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if seen {
			auditRow.Outcome = enums.WebhookOutcomeDuplicate
			recordAudit(ctx, audit, logg, auditRow)
			responses.WriteSuccess(w, webhookResponse{Outcome: string(enums.WebhookOutcomeDuplicate)})
			return
		}

		if err := svc.ProcessEvent(ctx, event); err != nil {
			// Drop the redis mark so the provider's redelivery gets a
			// fresh attempt.
			if guard != nil {
				if relErr := guard.Release(ctx, string(gateway), event.ExternalEventID); relErr != nil && logg != nil {
					logg.Warn(logg.WithGateway(ctx, string(gateway)), "release webhook mark failed")
				}
			}
			auditRow.Outcome = enums.WebhookOutcomeFailed
			auditRow.Error = errString(err)
			recordAudit(ctx, audit, logg, auditRow)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		auditRow.Outcome = enums.WebhookOutcomeProcessed
		if err := audit.RecordWebhookEvent(ctx, auditRow); err != nil {
			// The processed row is the durable duplicate record once the
			// redis mark expires. Fail the request so the provider
			// redelivers; processing is idempotent, and dropping the mark
			// lets the redelivery through.
			if guard != nil {
				if relErr := guard.Release(ctx, string(gateway), event.ExternalEventID); relErr != nil && logg != nil {
					logg.Warn(logg.WithGateway(ctx, string(gateway)), "release webhook mark failed")
				}
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook audit row"))
			return
		}

		if logg != nil {
			logCtx := logg.WithGateway(ctx, string(gateway))
			logg.Info(logg.WithField(logCtx, "external_event_id", event.ExternalEventID), "webhook processed")
		}
		responses.WriteSuccess(w, webhookResponse{Outcome: string(enums.WebhookOutcomeProcessed)})
	}
}

// checkDuplicate consults redis first and falls back to the audit table
// when redis is unavailable or the event id predates the mark TTL.
func checkDuplicate(ctx context.Context, guard Guard, audit AuditStore, logg *logger.Logger, gateway enums.GatewayName, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	if guard != nil {
		seen, err := guard.CheckAndMark(ctx, string(gateway), eventID)
		if err == nil && seen {
			return true, nil
		}
		if err != nil && logg != nil {
			logg.Warn(logg.WithGateway(ctx, string(gateway)), "webhook dedup mark unavailable, using audit table")
		}
	}
	return audit.HasProcessedWebhookEvent(ctx, gateway, eventID)
}

func newAuditRow(gateway enums.GatewayName, event *events.CanonicalEvent) *models.WebhookEvent {
	row := &models.WebhookEvent{
		Gateway:         gateway,
		EventType:       event.Type,
		ExternalEventID: event.ExternalEventID,
		RawPayload:      rawJSON(event.RawPayload),
	}
	if event.SubscriptionID != "" {
		id := event.SubscriptionID
		row.SubscriptionID = &id
	}
	if event.OrderReference != "" {
		ref := event.OrderReference
		row.OrderReference = &ref
	}
	return row
}

// recordAudit is the best-effort path for failure, ignored, and
// duplicate rows; those outcomes are not consulted for dedup, so
// losing one does not change behavior. The processed row is written
// inline above and does fail the request.
func recordAudit(ctx context.Context, audit AuditStore, logg *logger.Logger, row *models.WebhookEvent) {
	if err := audit.RecordWebhookEvent(ctx, row); err != nil && logg != nil {
		logg.Error(logg.WithGateway(ctx, string(row.Gateway)), "record webhook audit row failed", err)
	}
}

func rawJSON(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(quoted)
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
