package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, AuthModeDev, c.Auth.Mode)
	assert.Equal(t, time.Minute, c.Sweeper.Interval)
	assert.Equal(t, 200, c.Sweeper.Batch)
	assert.False(t, c.Sweeper.Disabled)
	assert.Equal(t, 10, c.Rate.Claim.Limit)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
auth:
  mode: jwt
  jwt:
    secret: from-file
    issuer: iam.test
sweeper:
  interval: 30s
  batch: 50
rate:
  claim:
    limit: 3
    window: 5m
`), 0o600))

	t.Setenv("PORT", "7000")
	t.Setenv("CONSENT_SWEEP_BATCH", "25")
	t.Setenv("JWT_SECRET", "from-env")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", c.Server.Addr)
	assert.Equal(t, AuthModeJWT, c.Auth.Mode)
	assert.Equal(t, "from-env", c.Auth.JWT.Secret)
	assert.Equal(t, "iam.test", c.Auth.JWT.Issuer)
	assert.Equal(t, 30*time.Second, c.Sweeper.Interval)
	assert.Equal(t, 25, c.Sweeper.Batch)
	assert.Equal(t, 3, c.Rate.Claim.Limit)
	assert.Equal(t, 5*time.Minute, c.Rate.Claim.Window)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("CONSENT_SWEEP_INTERVAL", "soon")
		_, err := Load("")
		require.Error(t, err)
	})
	t.Run("jwt without secret", func(t *testing.T) {
		t.Setenv("CONSENT_AUTH_MODE", "jwt")
		_, err := Load("")
		require.Error(t, err)
	})
	t.Run("dev auth in prod", func(t *testing.T) {
		t.Setenv("APP_ENV", "prod")
		_, err := Load("")
		require.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}
