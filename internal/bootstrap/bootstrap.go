// Package bootstrap wires the payment stack shared by the api server
// and the cron worker. Both binaries drive the same orchestrator; only
// the surface on top differs.
package bootstrap

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/internal/gateways/fastspring"
	"github.com/nivenlabs/subflow-backend/internal/gateways/paddle"
	"github.com/nivenlabs/subflow-backend/internal/gateways/payproglobal"
	"github.com/nivenlabs/subflow-backend/internal/orchestrator"
	"github.com/nivenlabs/subflow-backend/internal/provisioning"
	"github.com/nivenlabs/subflow-backend/internal/retry"
	"github.com/nivenlabs/subflow-backend/internal/settings"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
	"github.com/nivenlabs/subflow-backend/pkg/metrics"
	"github.com/nivenlabs/subflow-backend/pkg/outbox"
)

// Stack bundles the services the binaries hand to their surfaces.
type Stack struct {
	BillingRepo  billing.Repository
	Billing      *billing.Service
	Registry     *gateways.Registry
	Orchestrator *orchestrator.Service
	OutboxRepo   *outbox.Repository
	Metrics      *metrics.PaymentMetrics
}

// NewStack builds the full payment stack over an open database handle.
// Gateways without credentials in the environment are simply not
// registered; at least one must be configured.
func NewStack(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*Stack, error) {
	clients, err := gatewayClients(cfg.Gateways, logg)
	if err != nil {
		return nil, err
	}
	registry, err := gateways.NewRegistry(clients...)
	if err != nil {
		return nil, err
	}

	billingRepo := billing.NewRepository(dbClient.DB())
	selector, err := gateways.NewSelector(registry, settings.NewStore(billingRepo), cfg.Gateways.AllowFirstConfiguredFallback, logg)
	if err != nil {
		return nil, err
	}

	billingService, err := billing.NewService(billing.ServiceParams{Repo: billingRepo})
	if err != nil {
		return nil, err
	}

	provisioner, err := provisioning.NewService(cfg.Provisioning, cfg.Password, logg)
	if err != nil {
		return nil, err
	}

	paymentMetrics := metrics.NewPaymentMetrics(reg)
	outboxRepo := outbox.NewRepository(dbClient.DB())

	orchestratorService, err := orchestrator.NewService(orchestrator.ServiceParams{
		TxRunner:    dbClient,
		Repo:        billingRepo,
		Selector:    selector,
		Registry:    registry,
		Retry:       retry.New(cfg.Retry, logg, paymentMetrics),
		Provisioner: provisioner,
		Outbox:      outbox.NewService(outboxRepo, logg),
		Metrics:     paymentMetrics,
		Logger:      logg,
	})
	if err != nil {
		return nil, err
	}

	return &Stack{
		BillingRepo:  billingRepo,
		Billing:      billingService,
		Registry:     registry,
		Orchestrator: orchestratorService,
		OutboxRepo:   outboxRepo,
		Metrics:      paymentMetrics,
	}, nil
}

// gatewayClients builds a client per gateway that has credentials set.
// A partially configured gateway is a hard error: silently skipping it
// would route its webhooks to 404.
func gatewayClients(cfg config.GatewaysConfig, logg *logger.Logger) ([]gateways.Client, error) {
	var clients []gateways.Client

	if strings.TrimSpace(cfg.FastSpring.Username) != "" {
		client, err := fastspring.New(cfg.FastSpring, cfg.RequestTimeout, logg)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	if strings.TrimSpace(cfg.Paddle.VendorID) != "" {
		client, err := paddle.New(cfg.Paddle, cfg.RequestTimeout, logg)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	if strings.TrimSpace(cfg.PayProGlobal.VendorAccountID) != "" {
		client, err := payproglobal.New(cfg.PayProGlobal, cfg.RequestTimeout, logg)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	return clients, nil
}
