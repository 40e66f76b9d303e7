package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nivenlabs/subflow-backend/api/controllers"
	subscriptioncontrollers "github.com/nivenlabs/subflow-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/nivenlabs/subflow-backend/api/controllers/webhooks"
	"github.com/nivenlabs/subflow-backend/api/middleware"
	"github.com/nivenlabs/subflow-backend/internal/billing"
	"github.com/nivenlabs/subflow-backend/internal/gateways"
	"github.com/nivenlabs/subflow-backend/internal/orchestrator"
	"github.com/nivenlabs/subflow-backend/pkg/auth/session"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
	"github.com/nivenlabs/subflow-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs. cmd/api builds one
// after wiring the services.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         redis.Pinger
	Idempotency   redis.IdempotencyStore
	Sessions      session.AccessSessionChecker
	SessionTokens controllers.SessionIssuer
	Billing       *billing.Service
	Orchestrator  *orchestrator.Service
	Registry      *gateways.Registry
	BillingRepo   billing.Repository
	WebhookGuard  webhookcontrollers.Guard
	Gatherer      prometheus.Gatherer
}

// NewRouter assembles the API routes. Webhook and callback endpoints
// stay outside the auth and idempotency-header middleware: providers
// sign their own payloads and carry their own delivery ids.
func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/packages", controllers.ListPackages(deps.Billing, logg))
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", controllers.Login(cfg.JWT, deps.BillingRepo, deps.SessionTokens, logg))
		r.Post("/refresh", controllers.RefreshToken(cfg.JWT, deps.SessionTokens, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		for _, name := range deps.Registry.Names() {
			client, err := deps.Registry.Get(name)
			if err != nil {
				continue
			}
			r.Post("/"+string(name), webhookcontrollers.Receive(client, deps.Orchestrator, deps.WebhookGuard, deps.BillingRepo, logg))
		}
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		success := controllers.PaymentSuccess(deps.Registry, deps.Orchestrator, deps.BillingRepo, logg)
		r.Get("/success", success)
		r.Post("/success", success)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Get("/ping", controllers.PrivatePing())
		r.Post("/auth/logout", controllers.Logout(deps.SessionTokens, logg))
		r.Post("/checkout/{gateway}/{package}", controllers.Checkout(deps.Orchestrator, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.List(deps.Billing, logg))
			r.Post("/cancel", subscriptioncontrollers.Cancel(deps.Orchestrator, logg))
			r.Post("/upgrade", subscriptioncontrollers.Upgrade(deps.Orchestrator, logg))
			r.Post("/downgrade", subscriptioncontrollers.Downgrade(deps.Orchestrator, logg))
		})
	})

	return r
}
