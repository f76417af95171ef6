package config

// EnvPrefix is passed to envconfig; every variable is also addressable by its full name.
const EnvPrefix = "SETTLEMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "SETTLEMENT_APP_ENV"
	EnvPort     = "SETTLEMENT_APP_PORT"
	EnvLogLevel = "SETTLEMENT_LOG_LEVEL"

	EnvDBDSN  = "SETTLEMENT_DB_DSN"
	EnvDBHost = "SETTLEMENT_DB_HOST"
	EnvDBUser = "SETTLEMENT_DB_USER"
	EnvDBName = "SETTLEMENT_DB_NAME"

	EnvRedisURL = "SETTLEMENT_REDIS_URL"

	EnvJWTSecret = "SETTLEMENT_JWT_SECRET"
	EnvJWTIssuer = "SETTLEMENT_JWT_ISSUER"

	EnvGCPProjectID       = "SETTLEMENT_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic  = "SETTLEMENT_PUBSUB_ORDERS_TOPIC"
	EnvBigQueryDataset    = "SETTLEMENT_BIGQUERY_DATASET"
	EnvBigQueryOrderTable = "SETTLEMENT_BIGQUERY_ORDERS_TABLE"

	EnvStripeAPIKey        = "SETTLEMENT_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "SETTLEMENT_STRIPE_WEBHOOK_SECRET"

	EnvCommissionDefaultRate = "SETTLEMENT_COMMISSION_DEFAULT_RATE"
	EnvCheckoutTimeout       = "SETTLEMENT_CHECKOUT_SESSION_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
