package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server        ServerConfig
	MongoDB       MongoDBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	OIDC          OIDCConfig
	Stripe        StripeConfig
	Entitlement   EntitlementConfig
	IdentityCache IdentityCacheConfig
	RateLimit     RateLimitConfig
	RabbitMQ      RabbitMQConfig
	MinIO         MinIOConfig
	Log           LogConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	Secret          string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Leeway          time.Duration
}

// OIDCConfig configures sign-in through an external identity provider.
type OIDCConfig struct {
	Provider      string
	Issuer        string
	ClientID      string
	AllowInsecure bool
}

type StripeConfig struct {
	SecretKey          string
	PublishableKey     string
	WebhookSecret      string
	PriceID            string
	APIBase            string
	Timeout            time.Duration
	SignatureTolerance time.Duration
	PaymentAmount      int64
	Currency           string
	SuccessURL         string
	CancelURL          string
	RequestsPerSecond  float64
}

type EntitlementConfig struct {
	DefaultPeriod time.Duration
	SweepInterval time.Duration
	LockBackend   string // memory | redis
	LockTTL       time.Duration
}

type IdentityCacheConfig struct {
	TTL time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type RabbitMQConfig struct {
	URL        string
	Exchange   string
	Queue      string
	Retries    int
	RetryDelay time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8000")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 15)
	v.SetDefault("MONGODB_DATABASE", "lookmax")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("JWT_ISSUER", "lookmax")
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", 10080)
	v.SetDefault("JWT_REFRESH_TOKEN_TTL", 43200)
	v.SetDefault("JWT_LEEWAY_SECONDS", 5)
	v.SetDefault("OIDC_PROVIDER", "google")
	v.SetDefault("STRIPE_API_BASE", "https://api.stripe.com")
	v.SetDefault("STRIPE_TIMEOUT_SECONDS", 10)
	v.SetDefault("STRIPE_SIGNATURE_TOLERANCE_SECONDS", 300)
	v.SetDefault("STRIPE_PAYMENT_AMOUNT", 999)
	v.SetDefault("STRIPE_CURRENCY", "usd")
	v.SetDefault("STRIPE_RPS", 20)
	v.SetDefault("FRONTEND_URL", "http://localhost:8081")
	v.SetDefault("ENTITLEMENT_DEFAULT_PERIOD_DAYS", 30)
	v.SetDefault("ENTITLEMENT_SWEEP_INTERVAL_MINUTES", 60)
	v.SetDefault("ENTITLEMENT_LOCK_BACKEND", "memory")
	v.SetDefault("ENTITLEMENT_LOCK_TTL_SECONDS", 10)
	v.SetDefault("IDENTITY_CACHE_TTL_SECONDS", 0)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("RABBITMQ_EXCHANGE", "entitlements")
	v.SetDefault("RABBITMQ_QUEUE", "entitlements.activated")
	v.SetDefault("RABBITMQ_RETRIES", 5)
	v.SetDefault("RABBITMQ_RETRY_DELAY_SECONDS", 2)
	v.SetDefault("MINIO_BUCKET", "lookmax-webhooks")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	frontend := strings.TrimRight(v.GetString("FRONTEND_URL"), "/")
	successURL := v.GetString("STRIPE_SUCCESS_URL")
	if successURL == "" {
		successURL = frontend + "/payment/success?session_id={CHECKOUT_SESSION_ID}"
	}
	cancelURL := v.GetString("STRIPE_CANCEL_URL")
	if cancelURL == "" {
		cancelURL = frontend + "/payment/cancel"
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVER_PORT"),
			Host:            v.GetString("SERVER_HOST"),
			Environment:     v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: seconds(v, "SERVER_SHUTDOWN_TIMEOUT"),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  seconds(v, "MONGODB_TIMEOUT"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:          v.GetString("JWT_SECRET"),
			Issuer:          v.GetString("JWT_ISSUER"),
			AccessTokenTTL:  time.Duration(v.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(v.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
			Leeway:          seconds(v, "JWT_LEEWAY_SECONDS"),
		},
		OIDC: OIDCConfig{
			Provider:      v.GetString("OIDC_PROVIDER"),
			Issuer:        v.GetString("OIDC_ISSUER"),
			ClientID:      v.GetString("OIDC_CLIENT_ID"),
			AllowInsecure: v.GetBool("ALLOW_INSECURE_TOKEN"),
		},
		Stripe: StripeConfig{
			SecretKey:          v.GetString("STRIPE_SECRET_KEY"),
			PublishableKey:     v.GetString("STRIPE_PUBLISHABLE_KEY"),
			WebhookSecret:      v.GetString("STRIPE_WEBHOOK_SECRET"),
			PriceID:            v.GetString("STRIPE_PRICE_ID"),
			APIBase:            v.GetString("STRIPE_API_BASE"),
			Timeout:            seconds(v, "STRIPE_TIMEOUT_SECONDS"),
			SignatureTolerance: seconds(v, "STRIPE_SIGNATURE_TOLERANCE_SECONDS"),
			PaymentAmount:      v.GetInt64("STRIPE_PAYMENT_AMOUNT"),
			Currency:           v.GetString("STRIPE_CURRENCY"),
			SuccessURL:         successURL,
			CancelURL:          cancelURL,
			RequestsPerSecond:  v.GetFloat64("STRIPE_RPS"),
		},
		Entitlement: EntitlementConfig{
			DefaultPeriod: time.Duration(v.GetInt("ENTITLEMENT_DEFAULT_PERIOD_DAYS")) * 24 * time.Hour,
			SweepInterval: time.Duration(v.GetInt("ENTITLEMENT_SWEEP_INTERVAL_MINUTES")) * time.Minute,
			LockBackend:   strings.ToLower(v.GetString("ENTITLEMENT_LOCK_BACKEND")),
			LockTTL:       seconds(v, "ENTITLEMENT_LOCK_TTL_SECONDS"),
		},
		IdentityCache: IdentityCacheConfig{
			TTL: seconds(v, "IDENTITY_CACHE_TTL_SECONDS"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:        v.GetString("RABBITMQ_URL"),
			Exchange:   v.GetString("RABBITMQ_EXCHANGE"),
			Queue:      v.GetString("RABBITMQ_QUEUE"),
			Retries:    v.GetInt("RABBITMQ_RETRIES"),
			RetryDelay: seconds(v, "RABBITMQ_RETRY_DELAY_SECONDS"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	if c.MongoDB.URI == "" {
		return fmt.Errorf("environment variable MONGODB_URI is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("environment variable JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	switch c.Entitlement.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("ENTITLEMENT_LOCK_BACKEND must be memory or redis, got %q", c.Entitlement.LockBackend)
	}
	if c.Entitlement.LockBackend == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("ENTITLEMENT_LOCK_BACKEND=redis requires REDIS_HOST")
	}
	return nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}
