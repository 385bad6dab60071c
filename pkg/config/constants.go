package config

// EnvPrefix is passed to envconfig; explicit tags carry the full names.
const EnvPrefix = "ATLASOPS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv     = "ATLASOPS_APP_ENV"
	EnvPort       = "ATLASOPS_APP_PORT"
	EnvDBDSN      = "ATLASOPS_DB_DSN"
	EnvDBHost     = "ATLASOPS_DB_HOST"
	EnvDBUser     = "ATLASOPS_DB_USER"
	EnvDBName     = "ATLASOPS_DB_NAME"
	EnvRedisURL   = "ATLASOPS_REDIS_URL"
	EnvJWTSecret  = "ATLASOPS_JWT_SECRET"
	EnvJWTIssuer  = "ATLASOPS_JWT_ISSUER"
	EnvJWTExpMins = "ATLASOPS_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "ATLASOPS_GCP_PROJECT_ID"

	EnvPubSubBillingTopic = "ATLASOPS_PUBSUB_BILLING_TOPIC"
	EnvPubSubBillingSub   = "ATLASOPS_PUBSUB_BILLING_SUBSCRIPTION"
	EnvPubSubCreditTopic  = "ATLASOPS_PUBSUB_CREDIT_TOPIC"
	EnvPubSubCreditSub    = "ATLASOPS_PUBSUB_CREDIT_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
