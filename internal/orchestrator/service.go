package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/internal/provisioning"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
	"github.com/nivenlabs/subflow-backend/pkg/metrics"
	"github.com/nivenlabs/subflow-backend/pkg/outbox"
)

// txRunner abstracts the transaction boundary so tests can supply a
// sqlite-backed runner.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// eventEmitter is the slice of the outbox service the orchestrator uses.
type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// provisioner covers the external tenant/license/affiliate collaborators.
type provisioner interface {
	CreateTenant(ctx context.Context, user *models.User) (*provisioning.TenantResult, error)
	ActivateLicense(ctx context.Context, tenantID string, packageID uuid.UUID, providerSubscriptionID string) error
	NotifyAffiliate(ctx context.Context, affiliateRef string, orderID uuid.UUID, amountCents int64, currencyCode string) error
}

// retrier is the retry coordinator surface.
type retrier interface {
	Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error
}

// ServiceParams groups the orchestrator dependencies.
type ServiceParams struct {
	TxRunner    txRunner
	Repo        billing.Repository
	Selector    *gateways.Selector
	Registry    *gateways.Registry
	Retry       retrier
	Provisioner provisioner
	Outbox      eventEmitter
	Metrics     *metrics.PaymentMetrics
	Logger      *logger.Logger
}

// Service drives the subscription lifecycle: checkout initiation,
// payment confirmation, failure handling, plan changes and cancellation.
// All state transitions for one subscription serialize on the order row
// lock taken inside the transaction runner.
type Service struct {
	tx          txRunner
	repo        billing.Repository
	selector    *gateways.Selector
	registry    *gateways.Registry
	retry       retrier
	provisioner provisioner
	outbox      eventEmitter
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
}

// NewService builds the orchestrator.
func NewService(params ServiceParams) (*Service, error) {
	if params.TxRunner == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Selector == nil || params.Registry == nil {
		return nil, errors.New("gateway selector and registry are required")
	}
	if params.Retry == nil {
		return nil, errors.New("retry coordinator is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter is required")
	}
	return &Service{
		tx:          params.TxRunner,
		repo:        params.Repo,
		selector:    params.Selector,
		registry:    params.Registry,
		retry:       params.Retry,
		provisioner: params.Provisioner,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// CheckoutResult is returned to the API for the browser redirect.
type CheckoutResult struct {
	OrderID     uuid.UUID
	Reference   string
	Gateway     enums.GatewayName
	RedirectURL string
}

// InitiateCheckout creates the pending order, then asks the resolved
// gateway for a checkout session. The order row is written before the
// remote call so a crash mid-checkout still leaves a traceable pending
// record for reconciliation.
func (s *Service) InitiateCheckout(ctx context.Context, userID, packageID uuid.UUID, explicitGateway *enums.GatewayName) (*CheckoutResult, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	pkg, err := s.repo.FindPackageByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil || !pkg.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "package not found")
	}

	var client gateways.Client
	if explicitGateway != nil {
		client, err = s.selector.Explicit(*explicitGateway)
	} else {
		client, err = s.selector.ForUser(ctx, user)
	}
	if err != nil {
		return nil, err
	}

	// Fail before writing the order when the package was never mapped
	// onto this provider.
	if pkg.ProductIDFor(client.Name()) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidProductMapping, "package has no product mapping for gateway").
			WithDetails(map[string]any{
				"package_id": pkg.ID.String(),
				"gateway":    string(client.Name()),
			})
	}

	order := &models.Order{
		ID:                uuid.New(),
		UserID:            user.ID,
		PackageID:         pkg.ID,
		Gateway:           client.Name(),
		Amount:            pkg.PriceAmount,
		CurrencyCode:      pkg.CurrencyCode,
		Status:            enums.OrderStatusPending,
		CheckoutReference: fmt.Sprintf("sf-%s", uuid.NewString()),
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	opts := gateways.CheckoutOptions{Reference: order.CheckoutReference}
	if user.AffiliateRef != nil {
		opts.AffiliateRef = *user.AffiliateRef
	}

	var session *gateways.CheckoutSession
	err = s.retry.Do(ctx, "create_checkout", func(ctx context.Context) error {
		var attemptErr error
		session, attemptErr = client.CreateCheckout(ctx, user, pkg, opts)
		return attemptErr
	})
	if err != nil {
		// The pending order stays behind on purpose; the reconciliation
		// sweep resolves it if the provider actually created a session.
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncCheckout(string(client.Name()))
	}
	if s.logg != nil {
		logCtx := s.logg.WithGateway(ctx, string(client.Name()))
		s.logg.Info(s.logg.WithField(logCtx, "order_id", order.ID.String()), "checkout session created")
	}

	return &CheckoutResult{
		OrderID:     order.ID,
		Reference:   order.CheckoutReference,
		Gateway:     client.Name(),
		RedirectURL: session.RedirectURL,
	}, nil
}
