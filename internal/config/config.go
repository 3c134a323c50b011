package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name string `yaml:"name"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Max        int `yaml:"max"`
	Expiration int `yaml:"expiration"` // seconds
}

// AuthConfig holds auth-specific configuration
type AuthConfig struct {
	// SessionTTLHours is the lifetime of a primary session
	SessionTTLHours int `yaml:"session_ttl_hours"`
	// StepUpTTLMinutes is the lifetime of an elevated-scope step-up grant
	StepUpTTLMinutes int `yaml:"step_up_ttl_minutes"`
	// TOTPIssuer is the issuer name embedded in otpauth provisioning URLs
	TOTPIssuer string `yaml:"totp_issuer"`
	// AbuseSigningKey signs the abuse device cookie
	AbuseSigningKey string `yaml:"abuse_signing_key"`
	// Pepper configures the password pepper key set
	Pepper PepperConfig `yaml:"pepper"`
}

// PepperConfig holds the password pepper key set. Keys are addressed by id so
// hashes recorded under an older pepper keep verifying after rotation.
type PepperConfig struct {
	Active string            `yaml:"active"`
	Keys   map[string]string `yaml:"keys"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds redis-specific configuration. An empty host disables the
// ephemeral grant backend and the durable backend is used instead.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Auth.SessionTTLHours <= 0 {
		c.Auth.SessionTTLHours = 24
	}
	if c.Auth.StepUpTTLMinutes <= 0 {
		c.Auth.StepUpTTLMinutes = 5
	}
	if c.Auth.TOTPIssuer == "" {
		c.Auth.TOTPIssuer = c.App.Name
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.RateLimit.Max <= 0 {
		c.Server.RateLimit.Max = 100
	}
	if c.Server.RateLimit.Expiration <= 0 {
		c.Server.RateLimit.Expiration = 60
	}
}

// SessionTTL returns the session lifetime as a duration
func (a *AuthConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLHours) * time.Hour
}

// StepUpTTL returns the elevated-scope grant lifetime as a duration
func (a *AuthConfig) StepUpTTL() time.Duration {
	return time.Duration(a.StepUpTTLMinutes) * time.Minute
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Enabled reports whether a redis backend is configured
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}

// quoteDSNValue quotes a DSN value if it contains spaces or special characters.
// Single quotes inside the value are escaped by doubling them.
func quoteDSNValue(value string) string {
	needsQuoting := false
	for _, r := range value {
		if r == ' ' || r == '\'' || r == '\\' || r == '=' {
			needsQuoting = true
			break
		}
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':') {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	escaped := ""
	for _, r := range value {
		if r == '\'' {
			escaped += "''"
		} else {
			escaped += string(r)
		}
	}

	return "'" + escaped + "'"
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}
