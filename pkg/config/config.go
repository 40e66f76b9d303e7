package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "SUBFLOW"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv   = "SUBFLOW_APP_ENV"
	EnvPort     = "SUBFLOW_APP_PORT"
	EnvDBDSN    = "SUBFLOW_DB_DSN"
	EnvDBHost   = "SUBFLOW_DB_HOST"
	EnvDBUser   = "SUBFLOW_DB_USER"
	EnvDBName   = "SUBFLOW_DB_NAME"
	EnvRedisURL = "SUBFLOW_REDIS_URL"

	EnvJWTSecret     = "SUBFLOW_JWT_SECRET"
	EnvJWTIssuer     = "SUBFLOW_JWT_ISSUER"
	EnvJWTExpMins    = "SUBFLOW_JWT_EXPIRATION_MINUTES"
	EnvJWTRefreshTTL = "SUBFLOW_JWT_REFRESH_TTL_MINUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Gateways     GatewaysConfig
	Provisioning ProvisioningConfig
	Retry        RetryConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Password     PasswordConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SUBFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SUBFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SUBFLOW_DB_DSN"`
	Driver string `envconfig:"SUBFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBFLOW_DB_USER"`
	LegacyPassword string `envconfig:"SUBFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUBFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"SUBFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"SUBFLOW_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"SUBFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"SUBFLOW_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"SUBFLOW_JWT_REFRESH_TTL_MINUTES" default:"43200"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh session lifetime.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

// GatewaysConfig carries credentials for every supported provider plus
// the routing policy knobs.
type GatewaysConfig struct {
	FastSpring   FastSpringConfig
	Paddle       PaddleConfig
	PayProGlobal PayProGlobalConfig

	// AllowFirstConfiguredFallback keeps the legacy behavior of routing
	// new customers to the first configured gateway when none is flagged
	// active. Toggled explicitly so product can turn it off.
	AllowFirstConfiguredFallback bool `envconfig:"SUBFLOW_GATEWAY_FALLBACK_FIRST" default:"true"`

	RequestTimeout time.Duration `envconfig:"SUBFLOW_GATEWAY_REQUEST_TIMEOUT" default:"15s"`
}

type FastSpringConfig struct {
	Username      string `envconfig:"SUBFLOW_FASTSPRING_USERNAME"`
	Password      string `envconfig:"SUBFLOW_FASTSPRING_PASSWORD"`
	StorefrontID  string `envconfig:"SUBFLOW_FASTSPRING_STOREFRONT_ID"`
	WebhookSecret string `envconfig:"SUBFLOW_FASTSPRING_WEBHOOK_SECRET"`
	BaseURL       string `envconfig:"SUBFLOW_FASTSPRING_BASE_URL" default:"https://api.fastspring.com"`
}

type PaddleConfig struct {
	VendorID      string `envconfig:"SUBFLOW_PADDLE_VENDOR_ID"`
	APIKey        string `envconfig:"SUBFLOW_PADDLE_API_KEY"`
	WebhookSecret string `envconfig:"SUBFLOW_PADDLE_WEBHOOK_SECRET"`
	BaseURL       string `envconfig:"SUBFLOW_PADDLE_BASE_URL" default:"https://vendors.paddle.com/api/2.0"`
}

type PayProGlobalConfig struct {
	VendorAccountID string `envconfig:"SUBFLOW_PAYPROGLOBAL_VENDOR_ACCOUNT_ID"`
	SecretKey       string `envconfig:"SUBFLOW_PAYPROGLOBAL_SECRET_KEY"`
	BaseURL         string `envconfig:"SUBFLOW_PAYPROGLOBAL_BASE_URL" default:"https://store.payproglobal.com/api"`
}

// ProvisioningConfig points at the external tenant/licensing/affiliate
// collaborators invoked after first activation.
type ProvisioningConfig struct {
	TenantServiceURL    string        `envconfig:"SUBFLOW_TENANT_SERVICE_URL"`
	LicenseServiceURL   string        `envconfig:"SUBFLOW_LICENSE_SERVICE_URL"`
	AffiliateServiceURL string        `envconfig:"SUBFLOW_AFFILIATE_SERVICE_URL"`
	APIToken            string        `envconfig:"SUBFLOW_PROVISIONING_API_TOKEN"`
	RequestTimeout      time.Duration `envconfig:"SUBFLOW_PROVISIONING_REQUEST_TIMEOUT" default:"10s"`
}

type RetryConfig struct {
	MaxAttempts       int           `envconfig:"SUBFLOW_RETRY_MAX_ATTEMPTS" default:"4"`
	InitialBackoff    time.Duration `envconfig:"SUBFLOW_RETRY_INITIAL_BACKOFF" default:"250ms"`
	MaxBackoff        time.Duration `envconfig:"SUBFLOW_RETRY_MAX_BACKOFF" default:"5s"`
	PerAttemptTimeout time.Duration `envconfig:"SUBFLOW_RETRY_PER_ATTEMPT_TIMEOUT" default:"10s"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"SUBFLOW_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SUBFLOW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SUBFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SUBFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic             string `envconfig:"SUBFLOW_PUBSUB_BILLING_TOPIC" default:"sf-billing-events"`
	NotificationTopic        string `envconfig:"SUBFLOW_PUBSUB_NOTIFICATION_TOPIC" default:"sf-notification-events"`
	BillingSubscription      string `envconfig:"SUBFLOW_PUBSUB_BILLING_SUBSCRIPTION"`
	NotificationSubscription string `envconfig:"SUBFLOW_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SUBFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SUBFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SUBFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SUBFLOW_FEATURE_AUTO_MIGRATE" default:"false"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"SUBFLOW_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"SUBFLOW_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"SUBFLOW_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SUBFLOW_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SUBFLOW_ARGON_KEY_LEN" default:"32"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
