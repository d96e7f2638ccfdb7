package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	Razorpay     RazorpayConfig
	Shiprocket   ShiprocketConfig
	Events       EventsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Events.validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"MALA_APP_ENV" required:"true"`
	Port         string   `envconfig:"MALA_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"MALA_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"MALA_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"MALA_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"MALA_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MALA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"MALA_DB_DSN"`

	LegacyHost     string `envconfig:"MALA_DB_HOST"`
	LegacyPort     int    `envconfig:"MALA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MALA_DB_USER"`
	LegacyPassword string `envconfig:"MALA_DB_PASSWORD"`
	LegacyName     string `envconfig:"MALA_DB_NAME"`
	LegacySSLMode  string `envconfig:"MALA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MALA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MALA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MALA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MALA_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"MALA_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MALA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MALA_REDIS_ADDR"`
	Password     string        `envconfig:"MALA_REDIS_PASSWORD"`
	DB           int           `envconfig:"MALA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MALA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MALA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MALA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MALA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MALA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to validate tokens minted by the identity provider.
type JWTConfig struct {
	Secret            string `envconfig:"MALA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MALA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MALA_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RateLimitConfig throttles checkout-style endpoints and the payment webhook.
type RateLimitConfig struct {
	CheckoutWindow    time.Duration `envconfig:"MALA_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutIPLimit   int           `envconfig:"MALA_RATE_LIMIT_CHECKOUT_IP" default:"30"`
	CheckoutUserLimit int           `envconfig:"MALA_RATE_LIMIT_CHECKOUT_USER" default:"10"`
	WebhookWindow     time.Duration `envconfig:"MALA_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookIPLimit    int           `envconfig:"MALA_RATE_LIMIT_WEBHOOK_IP" default:"600"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MALA_AUTO_MIGRATE" default:"false"`
}

// OrdersConfig carries the wall-clock windows that gate lifecycle transitions.
type OrdersConfig struct {
	CancellationWindow    time.Duration `envconfig:"MALA_ORDERS_CANCELLATION_WINDOW" default:"24h"`
	ReturnWindow          time.Duration `envconfig:"MALA_ORDERS_RETURN_WINDOW" default:"168h"`
	AbandonmentMinAge     time.Duration `envconfig:"MALA_ORDERS_ABANDONMENT_MIN_AGE" default:"15m"`
	AbandonmentMaxAge     time.Duration `envconfig:"MALA_ORDERS_ABANDONMENT_MAX_AGE" default:"1h"`
	ReaperInterval        time.Duration `envconfig:"MALA_ORDERS_REAPER_INTERVAL" default:"5m"`
	DefaultCurrency       string        `envconfig:"MALA_ORDERS_DEFAULT_CURRENCY" default:"INR"`
	RefundSpeed           string        `envconfig:"MALA_ORDERS_REFUND_SPEED" default:"optimum"`
	WebhookIdempotencyTTL time.Duration `envconfig:"MALA_ORDERS_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type RazorpayConfig struct {
	KeyID         string `envconfig:"MALA_RAZORPAY_KEY_ID" required:"true"`
	KeySecret     string `envconfig:"MALA_RAZORPAY_KEY_SECRET" required:"true"`
	WebhookSecret string `envconfig:"MALA_RAZORPAY_WEBHOOK_SECRET"`
}

type ShiprocketConfig struct {
	BaseURL        string        `envconfig:"MALA_SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in/v1/external"`
	Email          string        `envconfig:"MALA_SHIPROCKET_EMAIL"`
	Password       string        `envconfig:"MALA_SHIPROCKET_PASSWORD"`
	PickupLocation string        `envconfig:"MALA_SHIPROCKET_PICKUP_LOCATION" default:"Primary"`
	Timeout        time.Duration `envconfig:"MALA_SHIPROCKET_TIMEOUT" default:"15s"`
}

// Enabled reports whether shipment creation should be delegated to Shiprocket.
func (s ShiprocketConfig) Enabled() bool {
	return strings.TrimSpace(s.Email) != "" && strings.TrimSpace(s.Password) != ""
}

type EventsConfig struct {
	Driver string `envconfig:"MALA_EVENTS_DRIVER" default:"pubsub"`
}

func (e EventsConfig) validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(e.Driver)) {
	case EventsDriverPubSub:
		return nil
	case EventsDriverKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvEventsDriver, EventsDriverKafka)
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvEventsDriver, e.Driver)
	}
}

// UsesKafka reports whether the outbox publisher should write to Kafka instead of Pub/Sub.
func (e EventsConfig) UsesKafka() bool {
	return strings.EqualFold(strings.TrimSpace(e.Driver), EventsDriverKafka)
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MALA_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"MALA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic  string `envconfig:"MALA_PUBSUB_ORDERS_TOPIC" default:"mala-order-events"`
	CreateTopics bool   `envconfig:"MALA_PUBSUB_CREATE_TOPICS" default:"false"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"MALA_KAFKA_BROKERS"`
	OrdersTopic  string        `envconfig:"MALA_KAFKA_ORDERS_TOPIC" default:"mala.order-events"`
	BatchTimeout time.Duration `envconfig:"MALA_KAFKA_BATCH_TIMEOUT" default:"10ms"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MALA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MALA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MALA_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"MALA_OUTBOX_RETENTION" default:"720h"`
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
