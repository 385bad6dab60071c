package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Ops       OpsConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Billing   BillingConfig
	Credit    CreditConfig
	Refills   RefillsConfig
	Cron      CronConfig
	Square    SquareConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	BigQuery  BigQueryConfig
	Outbox    OutboxConfig
	Eventing  EventingConfig
	Flags     FeatureFlagsConfig
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
	Env          string `envconfig:"ATLASOPS_APP_ENV" required:"true"`
	Port         string `envconfig:"ATLASOPS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ATLASOPS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ATLASOPS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ATLASOPS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ATLASOPS_DB_DSN"`
	Driver string `envconfig:"ATLASOPS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ATLASOPS_DB_HOST"`
	LegacyPort     int    `envconfig:"ATLASOPS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ATLASOPS_DB_USER"`
	LegacyPassword string `envconfig:"ATLASOPS_DB_PASSWORD"`
	LegacyName     string `envconfig:"ATLASOPS_DB_NAME"`
	LegacySSLMode  string `envconfig:"ATLASOPS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ATLASOPS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ATLASOPS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ATLASOPS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ATLASOPS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	LockWaitTimeout time.Duration `envconfig:"ATLASOPS_DB_LOCK_WAIT_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ATLASOPS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ATLASOPS_REDIS_ADDR"`
	Password     string        `envconfig:"ATLASOPS_REDIS_PASSWORD"`
	DB           int           `envconfig:"ATLASOPS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ATLASOPS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ATLASOPS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ATLASOPS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ATLASOPS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ATLASOPS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ATLASOPS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ATLASOPS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ATLASOPS_JWT_EXPIRATION_MINUTES" required:"true"`
}

// OpsConfig guards the operator endpoints used by machine callers.
type OpsConfig struct {
	TokenHash string `envconfig:"ATLASOPS_OPS_TOKEN_HASH"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ATLASOPS_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ATLASOPS_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ATLASOPS_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ATLASOPS_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ATLASOPS_ARGON_KEY_LEN" default:"32"`
}

type RateLimitConfig struct {
	Window time.Duration `envconfig:"ATLASOPS_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"ATLASOPS_RATE_LIMIT_LIMIT" default:"120"`
}

// BillingConfig seeds the lazy per-tenant plan defaults.
type BillingConfig struct {
	DefaultCurrency            string `envconfig:"ATLASOPS_BILLING_DEFAULT_CURRENCY" default:"USD"`
	DefaultIncludedUnits       int    `envconfig:"ATLASOPS_BILLING_DEFAULT_INCLUDED_UNITS" default:"5"`
	DefaultUnitPriceMinorUnits int64  `envconfig:"ATLASOPS_BILLING_DEFAULT_UNIT_PRICE_MINOR_UNITS" default:"2500"`
	DefaultTaxRateBps          int    `envconfig:"ATLASOPS_BILLING_DEFAULT_TAX_RATE_BPS" default:"0"`
	DefaultTimezone            string `envconfig:"ATLASOPS_BILLING_DEFAULT_TIMEZONE" default:"UTC"`
}

type CreditConfig struct {
	ReservationTimeout time.Duration `envconfig:"ATLASOPS_CREDIT_RESERVATION_TIMEOUT" default:"72h"`
	ReconcileBatchSize int           `envconfig:"ATLASOPS_CREDIT_RECONCILE_BATCH_SIZE" default:"100"`
}

type RefillsConfig struct {
	BatchLimit int `envconfig:"ATLASOPS_REFILLS_BATCH_LIMIT" default:"100"`
}

type CronConfig struct {
	TickInterval time.Duration `envconfig:"ATLASOPS_CRON_TICK_INTERVAL" default:"1m"`
	LockTTL      time.Duration `envconfig:"ATLASOPS_CRON_LOCK_TTL" default:"5m"`
}

type SquareConfig struct {
	AccessToken         string `envconfig:"ATLASOPS_SQUARE_ACCESS_TOKEN"`
	Env                 string `envconfig:"ATLASOPS_SQUARE_ENV" default:"sandbox"`
	LocationID          string `envconfig:"ATLASOPS_SQUARE_LOCATION_ID"`
	WebhookSignatureKey string `envconfig:"ATLASOPS_SQUARE_WEBHOOK_SIGNATURE_KEY"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ATLASOPS_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ATLASOPS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ATLASOPS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic        string `envconfig:"ATLASOPS_PUBSUB_BILLING_TOPIC" required:"true"`
	BillingSubscription string `envconfig:"ATLASOPS_PUBSUB_BILLING_SUBSCRIPTION" required:"true"`
	CreditTopic         string `envconfig:"ATLASOPS_PUBSUB_CREDIT_TOPIC" required:"true"`
	CreditSubscription  string `envconfig:"ATLASOPS_PUBSUB_CREDIT_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"ATLASOPS_BIGQUERY_DATASET" default:"atlasops"`
	BillingEventsTable string `envconfig:"ATLASOPS_BIGQUERY_BILLING_TABLE" default:"billing_events"`
	CreditEventsTable  string `envconfig:"ATLASOPS_BIGQUERY_CREDIT_TABLE" default:"credit_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ATLASOPS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ATLASOPS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ATLASOPS_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"ATLASOPS_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ATLASOPS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ATLASOPS_AUTO_MIGRATE" default:"false"`
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
