package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/internal/orchestrator"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

const (
	defaultReconcileAfter = time.Hour
	defaultExpireAfter    = 7 * 24 * time.Hour
	defaultReconcileLimit = 250
)

// orderReconciler resolves a stale pending order against its gateway.
type orderReconciler interface {
	ReconcilePendingOrder(ctx context.Context, order *models.Order) (orchestrator.ReconcileOutcome, error)
}

// OrderReconcileJobParams configures the pending order sweep.
type OrderReconcileJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	BillingRepo  billing.Repository
	Orchestrator orderReconciler
	// ReconcileAfter is how old a pending order must be before the sweep
	// asks the gateway about it; fresher orders are still mid-checkout.
	ReconcileAfter time.Duration
	// ExpireAfter is how old an unresolvable pending order may grow
	// before it is written off as abandoned.
	ExpireAfter time.Duration
	Limit       int
	Now         func() time.Time
}

// NewOrderReconcileJob builds the cron job that resolves pending orders
// whose webhook or success callback never arrived.
func NewOrderReconcileJob(params OrderReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	reconcileAfter := params.ReconcileAfter
	if reconcileAfter <= 0 {
		reconcileAfter = defaultReconcileAfter
	}
	expireAfter := params.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = defaultExpireAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &orderReconcileJob{
		logg:           params.Logger,
		db:             params.DB,
		billingRepo:    params.BillingRepo,
		orchestrator:   params.Orchestrator,
		reconcileAfter: reconcileAfter,
		expireAfter:    expireAfter,
		limit:          limit,
		now:            now,
	}, nil
}

type orderReconcileJob struct {
	logg           *logger.Logger
	db             txRunner
	billingRepo    billing.Repository
	orchestrator   orderReconciler
	reconcileAfter time.Duration
	expireAfter    time.Duration
	limit          int
	now            func() time.Time
}

func (j *orderReconcileJob) Name() string { return "order-reconcile" }

func (j *orderReconcileJob) Run(ctx context.Context) error {
	var errs error
	if err := j.reconcilePendingOrders(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := j.expireAbandonedOrders(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (j *orderReconcileJob) reconcilePendingOrders(ctx context.Context) error {
	orders, err := j.billingRepo.ListPendingOrders(ctx, j.reconcileAfter, j.limit)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	var errs error
	confirmed, failed, unknown := 0, 0, 0
	for i := range orders {
		outcome, err := j.orchestrator.ReconcilePendingOrder(ctx, &orders[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile order %s: %w", orders[i].ID, err))
			continue
		}
		switch outcome {
		case orchestrator.ReconcileConfirmed:
			confirmed++
		case orchestrator.ReconcileFailed:
			failed++
		default:
			unknown++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(orders),
		"confirmed":  confirmed,
		"failed":     failed,
		"unknown":    unknown,
	})
	j.logg.Info(logCtx, "pending order reconcile loop complete")
	return errs
}

// expireAbandonedOrders writes off pending orders the gateway never
// resolved. Abandoned checkouts carry no payment, so the transition is
// a plain status change without a failure notice.
func (j *orderReconcileJob) expireAbandonedOrders(ctx context.Context) error {
	orders, err := j.billingRepo.ListPendingOrders(ctx, j.expireAfter, j.limit)
	if err != nil {
		return fmt.Errorf("list abandoned orders: %w", err)
	}
	expired := 0
	var errs error
	for i := range orders {
		if err := j.expireOrder(ctx, &orders[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", orders[i].ID, err))
			continue
		}
		expired++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": expired})
	j.logg.Info(logCtx, "abandoned order expiry loop complete")
	return errs
}

func (j *orderReconcileJob) expireOrder(ctx context.Context, order *models.Order) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.billingRepo.WithTx(tx)
		current, err := repo.FindOrderByReferenceForUpdate(ctx, order.CheckoutReference)
		if err != nil {
			return err
		}
		if current == nil || current.Status != enums.OrderStatusPending {
			return nil
		}
		now := j.now().UTC()
		current.Status = enums.OrderStatusFailed
		current.FailedAt = &now
		return repo.UpdateOrder(ctx, current)
	})
}
