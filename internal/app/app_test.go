package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-consent/internal/adapters/auth/jwtverify"
	"clinical-consent/internal/adapters/auth/odin"
	"clinical-consent/internal/adapters/notify/lognotify"
	"clinical-consent/internal/adapters/notify/webhook"
	"clinical-consent/internal/platform/config"
	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/platform/ratelimit"
)

func TestVerifier_ByMode(t *testing.T) {
	cfg := config.Default()

	v, err := Verifier(cfg)
	require.NoError(t, err)
	assert.Nil(t, v)

	cfg.Auth.Mode = config.AuthModeJWT
	cfg.Auth.JWT.Secret = "s3cret"
	v, err = Verifier(cfg)
	require.NoError(t, err)
	assert.IsType(t, &jwtverify.Verifier{}, v)

	cfg.Auth.Mode = config.AuthModeOdin
	cfg.Auth.Odin.BaseURL = "http://odin.test"
	cfg.Auth.Odin.APIKey = "k"
	v, err = Verifier(cfg)
	require.NoError(t, err)
	assert.IsType(t, &odin.Verifier{}, v)
}

func TestNotifier_ByConfig(t *testing.T) {
	cfg := config.Default()

	n, err := Notifier(cfg, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &lognotify.Notifier{}, n)

	cfg.Notify.Webhook.URL = "https://hooks.test/consent"
	n, err = Notifier(cfg, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &webhook.Notifier{}, n)
}

func TestLimiter_MemoryWithoutRedis(t *testing.T) {
	cfg := config.Default()

	lim, closeFn, err := Limiter(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &ratelimit.MemoryLimiter{}, lim)

	cfg.Rate.Claim.Limit = 0
	lim, _, err = Limiter(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, lim)
}

func TestOpenDB_NoDSN(t *testing.T) {
	db, err := OpenDB(context.Background(), config.Default(), logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, db)
}
