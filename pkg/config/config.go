package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "PAYWALLET"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv        = "PAYWALLET_APP_ENV"
	EnvPort          = "PAYWALLET_APP_PORT"
	EnvDBDSN         = "PAYWALLET_DB_DSN"
	EnvDBHost        = "PAYWALLET_DB_HOST"
	EnvDBUser        = "PAYWALLET_DB_USER"
	EnvDBName        = "PAYWALLET_DB_NAME"
	EnvRedisURL      = "PAYWALLET_REDIS_URL"
	EnvWebhookSecret = "PAYWALLET_GATEWAY_WEBHOOK_SECRET"
	EnvGCPProjectID  = "PAYWALLET_GCP_PROJECT_ID"
	EnvLedgerSub     = "PAYWALLET_PUBSUB_LEDGER_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Gateway      GatewayConfig
	Fraud        FraudConfig
	Notify       NotifyConfig
	SMTP         SMTPConfig
	SMS          SMSConfig
	Push         PushConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"PAYWALLET_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYWALLET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PAYWALLET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYWALLET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYWALLET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYWALLET_DB_DSN"`
	Driver string `envconfig:"PAYWALLET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYWALLET_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYWALLET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYWALLET_DB_USER"`
	LegacyPassword string `envconfig:"PAYWALLET_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYWALLET_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYWALLET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYWALLET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYWALLET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYWALLET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYWALLET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYWALLET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYWALLET_REDIS_ADDR"`
	Password     string        `envconfig:"PAYWALLET_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYWALLET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYWALLET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYWALLET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYWALLET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYWALLET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYWALLET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// GatewayConfig holds the inbound webhook trust boundary. The shared secret is
// required: without it signatures cannot be verified and the process refuses
// to serve. Rotation requires a restart.
type GatewayConfig struct {
	WebhookSecret   string        `envconfig:"PAYWALLET_GATEWAY_WEBHOOK_SECRET" required:"true"`
	SignatureHeader string        `envconfig:"PAYWALLET_GATEWAY_SIGNATURE_HEADER" default:"Verif-Hash"`
	IdempotencyTTL  time.Duration `envconfig:"PAYWALLET_GATEWAY_IDEMPOTENCY_TTL" default:"72h"`
	RateLimitMax    int           `envconfig:"PAYWALLET_GATEWAY_RATE_LIMIT_MAX" default:"120"`
	RateLimitWindow time.Duration `envconfig:"PAYWALLET_GATEWAY_RATE_LIMIT_WINDOW" default:"1m"`
}

type FraudConfig struct {
	AmountThreshold string        `envconfig:"PAYWALLET_FRAUD_AMOUNT_THRESHOLD" default:"500000"`
	VelocityWindow  time.Duration `envconfig:"PAYWALLET_FRAUD_VELOCITY_WINDOW" default:"10m"`
	VelocityCap     int           `envconfig:"PAYWALLET_FRAUD_VELOCITY_CAP" default:"5"`
	AverageMultiple int           `envconfig:"PAYWALLET_FRAUD_AVERAGE_MULTIPLE" default:"10"`
	HistoryTimeout  time.Duration `envconfig:"PAYWALLET_FRAUD_HISTORY_TIMEOUT" default:"2s"`
	HistoryLimit    int           `envconfig:"PAYWALLET_FRAUD_HISTORY_LIMIT" default:"50"`
}

type NotifyConfig struct {
	MaxAttempts     int           `envconfig:"PAYWALLET_NOTIFY_MAX_ATTEMPTS" default:"3"`
	BaseBackoff     time.Duration `envconfig:"PAYWALLET_NOTIFY_BASE_BACKOFF" default:"500ms"`
	MaxBackoff      time.Duration `envconfig:"PAYWALLET_NOTIFY_MAX_BACKOFF" default:"10s"`
	ProviderTimeout time.Duration `envconfig:"PAYWALLET_NOTIFY_PROVIDER_TIMEOUT" default:"10s"`
	DefaultChannel  string        `envconfig:"PAYWALLET_NOTIFY_DEFAULT_CHANNEL" default:"email"`
}

type SMTPConfig struct {
	Host     string `envconfig:"PAYWALLET_SMTP_HOST"`
	Port     string `envconfig:"PAYWALLET_SMTP_PORT" default:"465"`
	Username string `envconfig:"PAYWALLET_SMTP_USERNAME"`
	Password string `envconfig:"PAYWALLET_SMTP_PASSWORD"`
	From     string `envconfig:"PAYWALLET_SMTP_FROM"`
}

type SMSConfig struct {
	BaseURL  string `envconfig:"PAYWALLET_SMS_BASE_URL"`
	APIKey   string `envconfig:"PAYWALLET_SMS_API_KEY"`
	SenderID string `envconfig:"PAYWALLET_SMS_SENDER_ID" default:"PAYWALLET"`
}

type PushConfig struct {
	BaseURL   string `envconfig:"PAYWALLET_PUSH_BASE_URL"`
	ServerKey string `envconfig:"PAYWALLET_PUSH_SERVER_KEY"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PAYWALLET_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PAYWALLET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PAYWALLET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic        string `envconfig:"PAYWALLET_PUBSUB_LEDGER_TOPIC" default:"pw-ledger-events"`
	LedgerSubscription string `envconfig:"PAYWALLET_PUBSUB_LEDGER_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PAYWALLET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PAYWALLET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PAYWALLET_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PAYWALLET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PAYWALLET_AUTO_MIGRATE" default:"false"`
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
