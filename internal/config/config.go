// Package config loads CORA's configuration from an optional YAML file,
// an optional .env file and CORA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" json:"server"`
	Database DatabaseConfig `koanf:"database" json:"database"`
	Auth     AuthConfig     `koanf:"auth" json:"auth"`
	Redis    RedisConfig    `koanf:"redis" json:"redis"`
	NATS     NATSConfig     `koanf:"nats" json:"nats"`
	Mail     MailConfig     `koanf:"mail" json:"mail"`
	Chat     ChatConfig     `koanf:"chat" json:"chat"`
	Jobs     JobsConfig     `koanf:"jobs" json:"jobs"`
	Log      LogConfig      `koanf:"log" json:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string   `koanf:"host" json:"host"`
	Port            int      `koanf:"port" json:"port"`
	CORSOrigins     []string `koanf:"cors_origins" json:"cors_origins"`
	ReadTimeout     Duration `koanf:"read_timeout" json:"read_timeout"`
	WriteTimeout    Duration `koanf:"write_timeout" json:"write_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	Environment     string   `koanf:"environment" json:"environment"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver      string `koanf:"driver" json:"driver"`
	DSN         Secret `koanf:"dsn" json:"dsn"`
	AutoMigrate bool   `koanf:"auto_migrate" json:"auto_migrate"`
}

// AuthConfig configures tokens, hashing and the login rate limit.
type AuthConfig struct {
	JWTSecret         Secret   `koanf:"jwt_secret" json:"jwt_secret"`
	TokenTTL          Duration `koanf:"token_ttl" json:"token_ttl"`
	BcryptCost        int      `koanf:"bcrypt_cost" json:"bcrypt_cost"`
	AuthRatePerMinute int      `koanf:"auth_rate_per_minute" json:"auth_rate_per_minute"`
	AuthBurst         int      `koanf:"auth_burst" json:"auth_burst"`
}

// RedisConfig enables the session cache when URL is set.
type RedisConfig struct {
	URL Secret `koanf:"url" json:"url"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL           string `koanf:"url" json:"url"`
	SubjectPrefix string `koanf:"subject_prefix" json:"subject_prefix"`
}

// MailConfig configures transactional mail.
type MailConfig struct {
	SendGridAPIKey Secret `koanf:"sendgrid_api_key" json:"sendgrid_api_key"`
	FromEmail      string `koanf:"from_email" json:"from_email"`
	FromName       string `koanf:"from_name" json:"from_name"`
	AppBaseURL     string `koanf:"app_base_url" json:"app_base_url"`
}

// ChatConfig configures the sales chat.
type ChatConfig struct {
	TokenBudget           int    `koanf:"token_budget" json:"token_budget"`
	AnonymousMessageLimit int    `koanf:"anonymous_message_limit" json:"anonymous_message_limit"`
	SignupPromptAfter     int    `koanf:"signup_prompt_after" json:"signup_prompt_after"`
	MaxMessageLength      int    `koanf:"max_message_length" json:"max_message_length"`
	AnthropicAPIKey       Secret `koanf:"anthropic_api_key" json:"anthropic_api_key"`
	AnthropicModel        string `koanf:"anthropic_model" json:"anthropic_model"`
	AnthropicBaseURL      string `koanf:"anthropic_base_url" json:"anthropic_base_url"`
	// StateKey signs chat state tokens. Falls back to the JWT secret.
	StateKey Secret `koanf:"state_key" json:"state_key"`
}

// JobsConfig configures scheduled maintenance.
type JobsConfig struct {
	SessionPurgeSpec string   `koanf:"session_purge_spec" json:"session_purge_spec"`
	AuditPruneSpec   string   `koanf:"audit_prune_spec" json:"audit_prune_spec"`
	AuditRetention   Duration `koanf:"audit_retention" json:"audit_retention"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = Duration(30 * time.Second)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = EnvDevelopment
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "./data/cora.db"
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = Duration(24 * time.Hour)
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 10
	}
	if cfg.Auth.AuthRatePerMinute == 0 {
		cfg.Auth.AuthRatePerMinute = 10
	}
	if cfg.Auth.AuthBurst == 0 {
		cfg.Auth.AuthBurst = 5
	}
	if !cfg.Auth.JWTSecret.IsSet() && cfg.Server.Environment != EnvProduction {
		cfg.Auth.JWTSecret = "cora-development-secret"
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "cora"
	}

	if cfg.Mail.FromEmail == "" {
		cfg.Mail.FromEmail = "hello@cora.app"
	}
	if cfg.Mail.FromName == "" {
		cfg.Mail.FromName = "CORA"
	}
	if cfg.Mail.AppBaseURL == "" {
		cfg.Mail.AppBaseURL = "http://localhost:3000"
	}

	if cfg.Chat.TokenBudget == 0 {
		cfg.Chat.TokenBudget = 1024
	}
	if cfg.Chat.AnonymousMessageLimit == 0 {
		cfg.Chat.AnonymousMessageLimit = 20
	}
	if cfg.Chat.SignupPromptAfter == 0 {
		cfg.Chat.SignupPromptAfter = 3
	}
	if cfg.Chat.MaxMessageLength == 0 {
		cfg.Chat.MaxMessageLength = 1000
	}
	if cfg.Chat.AnthropicModel == "" {
		cfg.Chat.AnthropicModel = "claude-3-5-haiku-latest"
	}
	if cfg.Chat.AnthropicBaseURL == "" {
		cfg.Chat.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if !cfg.Chat.StateKey.IsSet() {
		cfg.Chat.StateKey = cfg.Auth.JWTSecret
	}

	if cfg.Jobs.SessionPurgeSpec == "" {
		cfg.Jobs.SessionPurgeSpec = "@hourly"
	}
	if cfg.Jobs.AuditPruneSpec == "" {
		cfg.Jobs.AuditPruneSpec = "@daily"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	switch c.Server.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("server.environment must be development, production or test, got %q", c.Server.Environment))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if !c.Database.DSN.IsSet() {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	if !c.Auth.JWTSecret.IsSet() {
		errs = append(errs, errors.New("auth.jwt_secret is required in production"))
	} else if c.Server.Environment == EnvProduction && len(c.Auth.JWTSecret.Value()) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes in production"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost))
	}
	if c.Auth.AuthRatePerMinute < 0 || c.Auth.AuthBurst < 0 {
		errs = append(errs, errors.New("auth rate limits cannot be negative"))
	}

	if c.Chat.TokenBudget < 1 {
		errs = append(errs, fmt.Errorf("chat.token_budget must be positive, got %d", c.Chat.TokenBudget))
	}
	if c.Chat.AnonymousMessageLimit < 1 || c.Chat.SignupPromptAfter < 1 || c.Chat.MaxMessageLength < 1 {
		errs = append(errs, errors.New("chat limits must be positive"))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"jobs.session_purge_spec": c.Jobs.SessionPurgeSpec,
		"jobs.audit_prune_spec":   c.Jobs.AuditPruneSpec,
	} {
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}
