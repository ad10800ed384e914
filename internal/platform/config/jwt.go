package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

// JWTConfig configures ID token verification against the identity provider's JWKS.
type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string

	ClockSkew              time.Duration
	JWKSRefreshInterval    time.Duration
	JWKSMinRefreshInterval time.Duration

	HTTPTimeout time.Duration
}

// LoadJWTConfigFromEnv reads JWT_* variables. Issuer, audience and JWKS URL
// are required; the intervals have defaults.
func LoadJWTConfigFromEnv() (JWTConfig, error) {
	cfg := JWTConfig{
		Issuer:   os.Getenv("JWT_ISSUER"),
		Audience: os.Getenv("JWT_AUDIENCE"),
		JWKSURL:  os.Getenv("JWT_JWKS_URL"),
	}
	if cfg.Issuer == "" || cfg.Audience == "" || cfg.JWKSURL == "" {
		return JWTConfig{}, fmt.Errorf("missing required env vars: JWT_ISSUER, JWT_AUDIENCE, JWT_JWKS_URL")
	}
	if u, err := url.Parse(cfg.JWKSURL); err != nil || u.Scheme == "" || u.Host == "" {
		return JWTConfig{}, fmt.Errorf("JWT_JWKS_URL must be an absolute URL, got %q", cfg.JWKSURL)
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"JWT_CLOCK_SKEW", 30 * time.Second, &cfg.ClockSkew},
		// Periodic refresh picks up rotated keys even while an old key is cached.
		{"JWT_JWKS_REFRESH_INTERVAL", 5 * time.Minute, &cfg.JWKSRefreshInterval},
		// Bounds refreshes triggered by unknown kids.
		{"JWT_JWKS_MIN_REFRESH_INTERVAL", 10 * time.Second, &cfg.JWKSMinRefreshInterval},
		{"JWT_HTTP_TIMEOUT", 5 * time.Second, &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		v, err := durationEnv(d.key, d.def, false)
		if err != nil {
			return JWTConfig{}, err
		}
		*d.dst = v
	}
	return cfg, nil
}

// durationEnv parses k as a time.Duration, returning def when k is unset.
// With positive set, zero and negative values are rejected.
func durationEnv(k string, def time.Duration, positive bool) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. %s): %w", k, def, err)
	}
	if positive && d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", k, d)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", k, d)
	}
	return d, nil
}
