package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

const defaultProvisioningRetryLimit = 100

// provisioningRetrier replays the provisioning sub-flow for one user.
type provisioningRetrier interface {
	RetryProvisioning(ctx context.Context, userID uuid.UUID) error
}

// ProvisioningRetryJobParams configures the provisioning replay sweep.
type ProvisioningRetryJobParams struct {
	Logger       *logger.Logger
	BillingRepo  billing.Repository
	Orchestrator provisioningRetrier
	Limit        int
}

// NewProvisioningRetryJob builds the cron job that picks up users whose
// tenant or license provisioning failed after a successful payment. The
// outbox event emitted at failure time is the durable record; this
// sweep is the safety net that actually drains the pending set.
func NewProvisioningRetryJob(params ProvisioningRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultProvisioningRetryLimit
	}
	return &provisioningRetryJob{
		logg:         params.Logger,
		billingRepo:  params.BillingRepo,
		orchestrator: params.Orchestrator,
		limit:        limit,
	}, nil
}

type provisioningRetryJob struct {
	logg         *logger.Logger
	billingRepo  billing.Repository
	orchestrator provisioningRetrier
	limit        int
}

func (j *provisioningRetryJob) Name() string { return "provisioning-retry" }

func (j *provisioningRetryJob) Run(ctx context.Context) error {
	users, err := j.billingRepo.ListUsersPendingProvisioning(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list users pending provisioning: %w", err)
	}
	var errs error
	replayed := 0
	for i := range users {
		if err := j.orchestrator.RetryProvisioning(ctx, users[i].ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("retry provisioning for user %s: %w", users[i].ID, err))
			continue
		}
		replayed++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(users),
		"replayed":   replayed,
	})
	j.logg.Info(logCtx, "provisioning retry loop complete")
	return errs
}
