package auth

import (
	"os"
	"time"
)

// Config defines runtime configuration for connection authentication.
//
// It is environment-driven so deployments can rotate keys and tune skew
// without code changes.
type Config struct {
	// Issuer is the value expected in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of tokens issued by this process
	// (dev tooling and tests; production tokens come from the identity provider).
	AccessTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key whose public
	// half verifies PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "zap",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads authenticator configuration from environment variables.
//
// Required:
//   - ZAP_PASETO_V4_SECRET_KEY_HEX
//
// Optional:
//   - ZAP_AUTH_ISSUER
//   - ZAP_AUTH_ACCESS_TTL
//   - ZAP_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("ZAP_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("ZAP_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("ZAP_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("ZAP_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
