package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/lookmax")
	t.Setenv("MONGODB_DATABASE", "lookmax_test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "testsecret123456789012345678901234")
}

func TestLoadConfig(t *testing.T) {
	setRequired(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("ENTITLEMENT_DEFAULT_PERIOD_DAYS", "31")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "lookmax_test", cfg.MongoDB.Database)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, "whsec_test", cfg.Stripe.WebhookSecret)
	require.Equal(t, 31*24*time.Hour, cfg.Entitlement.DefaultPeriod)
	require.Equal(t, 5*time.Second, cfg.JWT.Leeway)
	require.Equal(t, 5*time.Minute, cfg.Stripe.SignatureTolerance)
	require.Equal(t, "memory", cfg.Entitlement.LockBackend)
	require.Contains(t, cfg.Stripe.SuccessURL, "{CHECKOUT_SESSION_ID}")
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidate_RedisLockRequiresRedis(t *testing.T) {
	cfg := &Config{}
	cfg.MongoDB.URI = "mongodb://x"
	cfg.JWT.Secret = "testsecret123456789012345678901234"
	cfg.Entitlement.LockBackend = "redis"

	require.Error(t, cfg.Validate())

	cfg.Redis.Host = "redis"
	require.NoError(t, cfg.Validate())

	cfg.Entitlement.LockBackend = "etcd"
	require.Error(t, cfg.Validate())
}
