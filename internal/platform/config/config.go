package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	AuthModeJWT = "jwt"
	AuthModeDev = "dev"
)

// OAuthConfig configures the authorization-code redirect against the identity provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// Enabled reports whether enough is configured to run the redirect flow.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.AuthURL != "" && c.TokenURL != "" && c.RedirectURL != ""
}

type Config struct {
	Port     string
	LogLevel string
	AuthMode string

	// DevSubject and DevEmail identify the caller when AuthMode is dev.
	DevSubject string
	DevEmail   string

	JWT   JWTConfig
	OAuth OAuthConfig

	AllowedEmailDomains []string
	RidesReloadTimeout  time.Duration
	LoginStateTTL       time.Duration

	// SessionSweepInterval is how often workspaces with expired tokens are closed.
	SessionSweepInterval time.Duration

	StorageBackend string
	DatabaseURL    string
	DBAutoMigrate  bool

	// RedisURL is optional; without it login state lives in process memory.
	RedisURL string

	CORSAllowedOrigins []string
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:                getenv("PORT", "8080"),
		LogLevel:            getenv("LOG_LEVEL", "INFO"),
		AuthMode:            getenv("AUTH_MODE", AuthModeJWT),
		DevSubject:          getenv("DEV_SUBJECT", "dev-user"),
		DevEmail:            getenv("DEV_EMAIL", "dev.user@vitstudent.ac.in"),
		AllowedEmailDomains: splitList(getenv("ALLOWED_EMAIL_DOMAINS", "vitstudent.ac.in")),
		StorageBackend:      getenv("STORAGE_BACKEND", StorageMemory),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		CORSAllowedOrigins:  splitList(getenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		OAuth: OAuthConfig{
			ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
			AuthURL:      os.Getenv("OAUTH_AUTH_URL"),
			TokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
			RedirectURL:  os.Getenv("OAUTH_REDIRECT_URL"),
			Scopes:       splitList(getenv("OAUTH_SCOPES", "openid,email,profile")),
		},
	}

	switch cfg.AuthMode {
	case AuthModeJWT:
		jwtCfg, err := LoadJWTConfigFromEnv()
		if err != nil {
			return Config{}, err
		}
		cfg.JWT = jwtCfg
	case AuthModeDev:
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeJWT, AuthModeDev, cfg.AuthMode)
	}

	switch cfg.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return Config{}, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageMemory, StoragePostgres, cfg.StorageBackend)
	}

	var err error
	if cfg.RidesReloadTimeout, err = durationEnv("RIDES_RELOAD_TIMEOUT", 15*time.Second, true); err != nil {
		return Config{}, err
	}
	if cfg.LoginStateTTL, err = durationEnv("LOGIN_STATE_TTL", 10*time.Minute, true); err != nil {
		return Config{}, err
	}
	if cfg.SessionSweepInterval, err = durationEnv("SESSION_SWEEP_INTERVAL", time.Minute, true); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("DB_AUTO_MIGRATE must be a boolean: %w", err)
		}
		cfg.DBAutoMigrate = b
	}
	if len(cfg.AllowedEmailDomains) == 0 {
		return Config{}, fmt.Errorf("ALLOWED_EMAIL_DOMAINS must list at least one domain")
	}

	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
