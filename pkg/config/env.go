package config

const EnvPrefix = "MALA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
)

const (
	EnvAppEnv         = "MALA_APP_ENV"
	EnvPort           = "MALA_APP_PORT"
	EnvDBDSN          = "MALA_DB_DSN"
	EnvDBHost         = "MALA_DB_HOST"
	EnvDBUser         = "MALA_DB_USER"
	EnvDBName         = "MALA_DB_NAME"
	EnvRedisURL       = "MALA_REDIS_URL"
	EnvJWTSecret      = "MALA_JWT_SECRET"
	EnvJWTIssuer      = "MALA_JWT_ISSUER"
	EnvRazorpayKeyID  = "MALA_RAZORPAY_KEY_ID"
	EnvRazorpaySecret = "MALA_RAZORPAY_KEY_SECRET"
	EnvEventsDriver   = "MALA_EVENTS_DRIVER"
	EnvKafkaBrokers   = "MALA_KAFKA_BROKERS"
	EnvReturnWindow   = "MALA_ORDERS_RETURN_WINDOW"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
