package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

const webhookRetentionDays = 90

// WebhookRetentionJobParams configures the webhook audit trail cleanup.
type WebhookRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	BillingRepo billing.Repository
	Retention   int
}

// NewWebhookRetentionJob builds the cron job that prunes old webhook
// audit rows. Processed rows older than the retention window have
// served their deduplication purpose.
func NewWebhookRetentionJob(params WebhookRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = webhookRetentionDays
	}
	return &webhookRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		billingRepo: params.BillingRepo,
		retention:   retention,
		now:         time.Now,
	}, nil
}

type webhookRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	billingRepo billing.Repository
	retention   int
	now         func() time.Time
}

func (j *webhookRetentionJob) Name() string { return "webhook-retention" }

func (j *webhookRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.billingRepo.WithTx(tx).DeleteWebhookEventsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("webhook retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "webhook audit cleanup complete")
	return nil
}
