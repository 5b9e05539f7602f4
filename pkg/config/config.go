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
	Generation   GenerationConfig
	Providers    ProvidersConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Square       SquareConfig
	Outbox       OutboxConfig
	Cron         CronConfig
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
	Env          string `envconfig:"PIXELMINT_APP_ENV" required:"true"`
	Port         string `envconfig:"PIXELMINT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PIXELMINT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PIXELMINT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PIXELMINT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PIXELMINT_DB_DSN"`
	Driver string `envconfig:"PIXELMINT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PIXELMINT_DB_HOST"`
	LegacyPort     int    `envconfig:"PIXELMINT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PIXELMINT_DB_USER"`
	LegacyPassword string `envconfig:"PIXELMINT_DB_PASSWORD"`
	LegacyName     string `envconfig:"PIXELMINT_DB_NAME"`
	LegacySSLMode  string `envconfig:"PIXELMINT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PIXELMINT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PIXELMINT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PIXELMINT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PIXELMINT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PIXELMINT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PIXELMINT_REDIS_ADDR"`
	Password     string        `envconfig:"PIXELMINT_REDIS_PASSWORD"`
	DB           int           `envconfig:"PIXELMINT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PIXELMINT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PIXELMINT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PIXELMINT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PIXELMINT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PIXELMINT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PIXELMINT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PIXELMINT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PIXELMINT_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenDays  int    `envconfig:"PIXELMINT_JWT_REFRESH_TOKEN_DAYS" default:"30"`
}

// RefreshTokenTTL converts the configured refresh window into a duration.
func (c JWTConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenDays) * 24 * time.Hour
}

type RateLimitConfig struct {
	SubmitWindow    time.Duration `envconfig:"PIXELMINT_RATE_LIMIT_SUBMIT_WINDOW" default:"1m"`
	SubmitUserLimit int           `envconfig:"PIXELMINT_RATE_LIMIT_SUBMIT_USER_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PIXELMINT_AUTO_MIGRATE" default:"false"`
}

type GenerationConfig struct {
	ProviderOrder   []string      `envconfig:"PIXELMINT_GENERATION_PROVIDER_ORDER" default:"stability,fal,replicate"`
	SubmitTimeout   time.Duration `envconfig:"PIXELMINT_GENERATION_SUBMIT_TIMEOUT" default:"30s"`
	PollTimeout     time.Duration `envconfig:"PIXELMINT_GENERATION_POLL_TIMEOUT" default:"10s"`
	PendingMaxAge   time.Duration `envconfig:"PIXELMINT_GENERATION_PENDING_MAX_AGE" default:"30m"`
	ConsumeAttempts int           `envconfig:"PIXELMINT_GENERATION_CONSUME_ATTEMPTS" default:"3"`
}

type ProvidersConfig struct {
	StabilityAPIKey  string `envconfig:"PIXELMINT_STABILITY_API_KEY"`
	StabilityBaseURL string `envconfig:"PIXELMINT_STABILITY_BASE_URL" default:"https://api.stability.ai"`
	FalAPIKey        string `envconfig:"PIXELMINT_FAL_API_KEY"`
	FalBaseURL       string `envconfig:"PIXELMINT_FAL_BASE_URL" default:"https://queue.fal.run"`
	ReplicateAPIKey  string `envconfig:"PIXELMINT_REPLICATE_API_KEY"`
	ReplicateBaseURL string `envconfig:"PIXELMINT_REPLICATE_BASE_URL" default:"https://api.replicate.com"`
	ReplicateModel   string `envconfig:"PIXELMINT_REPLICATE_MODEL" default:"black-forest-labs/flux-schnell"`
	MaxAttempts      int    `envconfig:"PIXELMINT_PROVIDER_MAX_ATTEMPTS" default:"3"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PIXELMINT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PIXELMINT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PIXELMINT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName        string        `envconfig:"PIXELMINT_GCS_BUCKET_NAME" required:"true"`
	DownloadURLExpiry time.Duration `envconfig:"PIXELMINT_GCS_DOWNLOAD_URL_EXPIRY" default:"24h"`
}

type PubSubConfig struct {
	GenerationTopic        string `envconfig:"PIXELMINT_PUBSUB_GENERATION_TOPIC" required:"true"`
	GenerationSubscription string `envconfig:"PIXELMINT_PUBSUB_GENERATION_SUBSCRIPTION" required:"true"`
	CreditsTopic           string `envconfig:"PIXELMINT_PUBSUB_CREDITS_TOPIC" required:"true"`
	CreditsSubscription    string `envconfig:"PIXELMINT_PUBSUB_CREDITS_SUBSCRIPTION" required:"true"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"PIXELMINT_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"PIXELMINT_SQUARE_WEBHOOK_SECRET"`
	WebhookURL    string `envconfig:"PIXELMINT_SQUARE_WEBHOOK_URL"`
	Env           string `envconfig:"PIXELMINT_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PIXELMINT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PIXELMINT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PIXELMINT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PIXELMINT_CRON_INTERVAL" default:"5m"`
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
