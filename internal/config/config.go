// Package config validates and loads process configuration from the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required
	Port        string
	DatabaseURL string
	RedisURL    string

	// JWT (local Ed25519, base64 PEM per spec)
	JWTPrivateKey string
	JWTPublicKey  string

	// MFA secret encryption (32 bytes hex)
	MFAEncryptionKey string

	// Optional, defaulted
	GoEnv    string
	LogLevel string

	// OIDC (validated only when set)
	OIDCDomain   string
	OIDCAudience string

	DevelopmentMode bool
	AllowedOrigins  string
	TrustProxy      bool

	// Object store
	S3Endpoint  string
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	// SMTP relay
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string

	// WebRTC
	STUNServer     string
	TURNServer     string
	TURNUsername   string
	TURNCredential string

	// Rate limits: category -> "requests-window" formatted string (ulule style)
	RateLimits map[string]string

	RequireE2EESetup bool
	DeploymentEnv    string
	OTLPEndpoint     string
}

// defaultRateLimits mirrors the category table in the rate-limit engine
// design: (requests, window_secs) per category.
var defaultRateLimits = map[string]string{
	"auth_login":          "3-60",
	"auth_register":       "5-60",
	"auth_password_reset": "2-60",
	"auth_other":          "20-60",
	"write":               "30-60",
	"social":              "20-60",
	"read":                "200-60",
	"ws_connect":          "10-60",
	"ws_message":          "60-60",
	"voice_join":          "5-60",
	"search":              "15-60",
	"data_governance":     "2-60",
}

// ValidateEnv validates required environment variables and returns a Config.
// Returns an error describing every missing/invalid variable at once.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		errs = append(errs, "REDIS_URL is required")
	}

	cfg.JWTPrivateKey = os.Getenv("JWT_PRIVATE_KEY")
	cfg.JWTPublicKey = os.Getenv("JWT_PUBLIC_KEY")
	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		errs = append(errs, "JWT_PRIVATE_KEY and JWT_PUBLIC_KEY (base64 PEM Ed25519) are required")
	}

	cfg.MFAEncryptionKey = os.Getenv("MFA_ENCRYPTION_KEY")
	if cfg.MFAEncryptionKey != "" && len(cfg.MFAEncryptionKey) != 64 {
		errs = append(errs, "MFA_ENCRYPTION_KEY must be 32 bytes hex-encoded (64 chars)")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.TrustProxy = os.Getenv("TRUST_PROXY") == "true"

	cfg.OIDCDomain = os.Getenv("OIDC_DOMAIN")
	cfg.OIDCAudience = os.Getenv("OIDC_AUDIENCE")

	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.S3Region = os.Getenv("S3_REGION")
	cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = os.Getenv("SMTP_PORT")
	cfg.SMTPUser = os.Getenv("SMTP_USER")
	cfg.SMTPPass = os.Getenv("SMTP_PASS")

	cfg.STUNServer = os.Getenv("STUN_SERVER")
	cfg.TURNServer = os.Getenv("TURN_SERVER")
	cfg.TURNUsername = os.Getenv("TURN_USERNAME")
	cfg.TURNCredential = os.Getenv("TURN_CREDENTIAL")

	cfg.RequireE2EESetup = os.Getenv("REQUIRE_E2EE_SETUP") == "true"
	cfg.DeploymentEnv = getEnvOrDefault("DEPLOYMENT_ENVIRONMENT", "development")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	cfg.RateLimits = make(map[string]string, len(defaultRateLimits))
	for category, def := range defaultRateLimits {
		envKey := "RATE_LIMIT_" + strings.ToUpper(category)
		cfg.RateLimits[category] = getEnvOrDefault(envKey, def)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"deployment_environment", cfg.DeploymentEnv,
		"trust_proxy", cfg.TrustProxy,
		"jwt_private_key", redactSecret(cfg.JWTPrivateKey),
		"database_url", redactSecret(cfg.DatabaseURL),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
