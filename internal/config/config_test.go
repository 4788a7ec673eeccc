package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "JWT_PRIVATE_KEY", "JWT_PUBLIC_KEY",
		"MFA_ENCRYPTION_KEY", "GO_ENV", "LOG_LEVEL", "TRUST_PROXY",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestValidateEnv_MissingRequired(t *testing.T) {
	clearEnv(t)
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT is required")
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "REDIS_URL is required")
	assert.Contains(t, err.Error(), "JWT_PRIVATE_KEY")
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "not-a-port")
	os.Setenv("DATABASE_URL", "postgres://x")
	os.Setenv("REDIS_URL", "redis://x")
	os.Setenv("JWT_PRIVATE_KEY", "a")
	os.Setenv("JWT_PUBLIC_KEY", "b")
	defer clearEnv(t)

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be a valid port number")
}

func TestValidateEnv_Success(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "8080")
	os.Setenv("DATABASE_URL", "postgres://localhost/canis")
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("JWT_PRIVATE_KEY", "priv")
	os.Setenv("JWT_PUBLIC_KEY", "pub")
	defer clearEnv(t)

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "3-60", cfg.RateLimits["auth_login"])
	assert.Equal(t, "200-60", cfg.RateLimits["read"])
}

func TestValidateEnv_RateLimitOverride(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "8080")
	os.Setenv("DATABASE_URL", "postgres://localhost/canis")
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("JWT_PRIVATE_KEY", "priv")
	os.Setenv("JWT_PUBLIC_KEY", "pub")
	os.Setenv("RATE_LIMIT_AUTH_LOGIN", "10-60")
	defer func() {
		clearEnv(t)
		os.Unsetenv("RATE_LIMIT_AUTH_LOGIN")
	}()

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "10-60", cfg.RateLimits["auth_login"])
}

func TestValidateEnv_InvalidMFAKey(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "8080")
	os.Setenv("DATABASE_URL", "postgres://localhost/canis")
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("JWT_PRIVATE_KEY", "priv")
	os.Setenv("JWT_PUBLIC_KEY", "pub")
	os.Setenv("MFA_ENCRYPTION_KEY", "too-short")
	defer func() {
		clearEnv(t)
		os.Unsetenv("MFA_ENCRYPTION_KEY")
	}()

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MFA_ENCRYPTION_KEY")
}
