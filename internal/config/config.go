package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Paths    PathsConfig    `json:"paths"`
	Security SecurityConfig `json:"security"`
	Database DatabaseConfig `json:"database"`

	JWTSecret string `json:"-"`
	SentryDSN string `json:"-"`
	Env       string `json:"-"`
}

type ServerConfig struct {
	Bind                   string `json:"bind"`
	PortClient             int    `json:"port_client"`
	PortAdmin              int    `json:"port_admin"`
	MaxConnections         int    `json:"max_connections"`
	RequestTimeoutSeconds  int    `json:"request_timeout_seconds"`
	ConnectionGraceSeconds int    `json:"connection_grace_seconds"`
	ConnectionHardSeconds  int    `json:"connection_hard_seconds"`
}

type AuthConfig struct {
	TokenExpiryMinutes       int  `json:"token_expiry_minutes"`
	EmailRequired            bool `json:"email_required"`
	LoginRateLimitMax        int  `json:"login_rate_limit_max"`
	LoginRateLimitWindowSecs int  `json:"login_rate_limit_window_seconds"`
	SessionSweepIntervalMins int  `json:"session_sweep_interval_minutes"`
}

type PathsConfig struct {
	WebDir       string   `json:"web_dir"`
	Icons        string   `json:"icons"`
	BlockedPaths []string `json:"blocked_paths"`
}

type SecurityConfig struct {
	RateLimitCapacity     int      `json:"rate_limit_capacity"`
	RateLimitRefillPerSec float64  `json:"rate_limit_refill_per_second"`
	RateLimitIdleSeconds  int      `json:"rate_limit_idle_seconds"`
	BlockedNetworks       []string `json:"blocked_networks"`
	AllowedNetworks       []string `json:"allowed_networks"`
	TrustForwardedHeaders bool     `json:"trust_forwarded_headers"`
}

type DatabaseConfig struct {
	URL                    string `json:"-"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `json:"conn_max_lifetime_minutes"`
	RunMigrations          bool   `json:"run_migrations"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:                   "0.0.0.0",
			PortClient:             1337,
			PortAdmin:              1338,
			MaxConnections:         1000,
			RequestTimeoutSeconds:  30,
			ConnectionGraceSeconds: 60,
			ConnectionHardSeconds:  5,
		},
		Auth: AuthConfig{
			TokenExpiryMinutes:       60,
			LoginRateLimitMax:        10,
			LoginRateLimitWindowSecs: 60,
			SessionSweepIntervalMins: 10,
		},
		Paths: PathsConfig{
			WebDir: "web",
			Icons:  "icons",
		},
		Security: SecurityConfig{
			RateLimitCapacity:     50,
			RateLimitRefillPerSec: 10,
			RateLimitIdleSeconds:  60,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           1,
			MaxIdleConns:           1,
			ConnMaxLifetimeMinutes: 30,
			RunMigrations:          true,
		},
		Env: "development",
	}
}

// Load builds a Config from defaults, the optional JSON file at path, and the
// environment, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envOrDefault("APP_ENV", cfg.Env)
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	cfg.SentryDSN = strings.TrimSpace(os.Getenv("SENTRY_DSN"))
	cfg.Database.URL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.Server.Bind = envOrDefault("SERVER_BIND", cfg.Server.Bind)
	cfg.Server.PortClient = envIntOrDefault("PORT_CLIENT", cfg.Server.PortClient)
	cfg.Server.PortAdmin = envIntOrDefault("PORT_ADMIN", cfg.Server.PortAdmin)
	cfg.Server.MaxConnections = envIntOrDefault("MAX_CONNECTIONS", cfg.Server.MaxConnections)
	cfg.Server.RequestTimeoutSeconds = envIntOrDefault("REQUEST_TIMEOUT_SECONDS", cfg.Server.RequestTimeoutSeconds)

	cfg.Auth.TokenExpiryMinutes = envIntOrDefault("TOKEN_EXPIRY_MINUTES", cfg.Auth.TokenExpiryMinutes)
	cfg.Auth.EmailRequired = EnvBoolOrDefault("EMAIL_REQUIRED", cfg.Auth.EmailRequired)
	cfg.Auth.LoginRateLimitMax = envIntOrDefault("LOGIN_RATE_LIMIT_MAX", cfg.Auth.LoginRateLimitMax)
	cfg.Auth.LoginRateLimitWindowSecs = envIntOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", cfg.Auth.LoginRateLimitWindowSecs)

	cfg.Database.MaxOpenConns = envIntOrDefault("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envIntOrDefault("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetimeMinutes = envIntOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", cfg.Database.ConnMaxLifetimeMinutes)
	cfg.Database.RunMigrations = EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", cfg.Database.RunMigrations)
}

func (c Config) Validate() error {
	if c.Server.PortClient <= 0 || c.Server.PortAdmin <= 0 {
		return errors.New("server ports must be positive")
	}
	if c.Server.PortClient == c.Server.PortAdmin {
		return errors.New("port_client and port_admin must differ")
	}
	if c.Server.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}
	if c.Auth.TokenExpiryMinutes <= 0 {
		return errors.New("token_expiry_minutes must be positive")
	}
	if c.Security.RateLimitCapacity <= 0 || c.Security.RateLimitRefillPerSec <= 0 {
		return errors.New("rate limit capacity and refill must be positive")
	}
	return nil
}

func (c Config) TokenExpiry() time.Duration {
	return time.Duration(c.Auth.TokenExpiryMinutes) * time.Minute
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func (c Config) ClientAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.PortClient)
}

func (c Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.PortAdmin)
}

// MustEnv returns the trimmed value of name or an error naming it.
func MustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
