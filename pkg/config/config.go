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
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Mpesa        MpesaConfig
	Checkout     CheckoutConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	if err := cfg.Mpesa.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"MOHA_APP_ENV" required:"true"`
	Port         string   `envconfig:"MOHA_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"MOHA_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"MOHA_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"MOHA_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"MOHA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MOHA_DB_DSN"`
	Driver string `envconfig:"MOHA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MOHA_DB_HOST"`
	LegacyPort     int    `envconfig:"MOHA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MOHA_DB_USER"`
	LegacyPassword string `envconfig:"MOHA_DB_PASSWORD"`
	LegacyName     string `envconfig:"MOHA_DB_NAME"`
	LegacySSLMode  string `envconfig:"MOHA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MOHA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MOHA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MOHA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MOHA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MOHA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MOHA_REDIS_ADDR"`
	Password     string        `envconfig:"MOHA_REDIS_PASSWORD"`
	DB           int           `envconfig:"MOHA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MOHA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MOHA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MOHA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MOHA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MOHA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"MOHA_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"MOHA_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"MOHA_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"MOHA_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"MOHA_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"MOHA_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"MOHA_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"MOHA_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"MOHA_ARGON_KEY_LEN" default:"32"`
}

type RateLimitConfig struct {
	AuthWindow     time.Duration `envconfig:"MOHA_RATE_LIMIT_AUTH_WINDOW" default:"1m"`
	AuthIPLimit    int           `envconfig:"MOHA_RATE_LIMIT_AUTH_IP_LIMIT" default:"20"`
	CheckoutWindow time.Duration `envconfig:"MOHA_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutLimit  int           `envconfig:"MOHA_RATE_LIMIT_CHECKOUT_LIMIT" default:"5"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MOHA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MOHA_AUTO_MIGRATE" default:"false"`
}

// MpesaConfig holds the Daraja credentials for STK push and status queries.
type MpesaConfig struct {
	Env            string        `envconfig:"MOHA_MPESA_ENV" default:"sandbox"`
	BaseURL        string        `envconfig:"MOHA_MPESA_BASE_URL"`
	ConsumerKey    string        `envconfig:"MOHA_MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `envconfig:"MOHA_MPESA_CONSUMER_SECRET"`
	ShortCode      string        `envconfig:"MOHA_MPESA_SHORTCODE" default:"174379"`
	Passkey        string        `envconfig:"MOHA_MPESA_PASSKEY"`
	CallbackURL    string        `envconfig:"MOHA_MPESA_CALLBACK_URL" default:"https://admin.mohacollection.co.ke/mpesa-callback/"`
	AccountRef     string        `envconfig:"MOHA_MPESA_ACCOUNT_REFERENCE" default:"MohaCollection"`
	Timeout        time.Duration `envconfig:"MOHA_MPESA_TIMEOUT" default:"15s"`
}

// ResolvedBaseURL returns the configured base URL or the Daraja host for Env.
func (m MpesaConfig) ResolvedBaseURL() string {
	if trimmed := strings.TrimRight(strings.TrimSpace(m.BaseURL), "/"); trimmed != "" {
		return trimmed
	}
	if strings.EqualFold(strings.TrimSpace(m.Env), MpesaEnvProduction) {
		return MpesaProductionURL
	}
	return MpesaSandboxURL
}

func (m MpesaConfig) validate() error {
	env := strings.ToLower(strings.TrimSpace(m.Env))
	if env != MpesaEnvSandbox && env != MpesaEnvProduction {
		return fmt.Errorf("%s must be %q or %q", EnvMpesaEnv, MpesaEnvSandbox, MpesaEnvProduction)
	}
	if env == MpesaEnvProduction {
		missing := []string{}
		if m.ConsumerKey == "" {
			missing = append(missing, EnvMpesaConsumerKey)
		}
		if m.ConsumerSecret == "" {
			missing = append(missing, EnvMpesaConsumerSecret)
		}
		if m.Passkey == "" {
			missing = append(missing, EnvMpesaPasskey)
		}
		if len(missing) > 0 {
			return fmt.Errorf("production mpesa requires %s", strings.Join(missing, ", "))
		}
	}
	return nil
}

type CheckoutConfig struct {
	IdempotencyTTL    time.Duration `envconfig:"MOHA_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
	CallbackReplayTTL time.Duration `envconfig:"MOHA_CALLBACK_REPLAY_TTL" default:"72h"`
	CartSessionHeader string        `envconfig:"MOHA_CART_SESSION_HEADER" default:"X-Cart-Session"`
	LockTTL           time.Duration `envconfig:"MOHA_CHECKOUT_LOCK_TTL" default:"45s"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"MOHA_CRON_INTERVAL" default:"1m"`
	LockTTL            time.Duration `envconfig:"MOHA_CRON_LOCK_TTL" default:"50s"`
	PaymentStaleAfter  time.Duration `envconfig:"MOHA_PAYMENT_STALE_AFTER" default:"2m"`
	PaymentExpireAfter time.Duration `envconfig:"MOHA_PAYMENT_EXPIRE_AFTER" default:"24h"`
	PaymentBatchSize   int           `envconfig:"MOHA_PAYMENT_SWEEP_BATCH_SIZE" default:"50"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"MOHA_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"MOHA_PUBSUB_DOMAIN_TOPIC" default:"moha-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MOHA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MOHA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MOHA_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"MOHA_OUTBOX_RETENTION_DAYS" default:"30"`
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
