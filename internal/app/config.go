package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CSRNOTIFY_SERVER_PORT.
const EnvPrefix = "CSRNOTIFY"

// Config represents the runtime configuration of the notification engine.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Digest     DigestConfig     `mapstructure:"digest"`
	Email      EmailConfig      `mapstructure:"email"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per caller and route.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures admin API authentication settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures the shared-secret bearer tokens.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
}

// SchedulerConfig drives the periodic engine batches. Empty specs disable a job.
type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	ProcessDueSpec    string        `mapstructure:"process_due_spec"`
	ProcessDueLimit   int           `mapstructure:"process_due_limit"`
	ClaimLease        time.Duration `mapstructure:"claim_lease"`
	GenerationSpec    string        `mapstructure:"generation_spec"`
	GenerationHorizon time.Duration `mapstructure:"generation_horizon"`
	StatsSpec         string        `mapstructure:"stats_spec"`
	Digests           DigestSpecs   `mapstructure:"digests"`
}

// DigestSpecs holds the cron spec of each digest type.
type DigestSpecs struct {
	Hourly  string `mapstructure:"hourly"`
	Daily   string `mapstructure:"daily"`
	Weekly  string `mapstructure:"weekly"`
	Monthly string `mapstructure:"monthly"`
}

// Map returns the specs keyed by digest type.
func (d DigestSpecs) Map() map[string]string {
	return map[string]string{
		"hourly":  d.Hourly,
		"daily":   d.Daily,
		"weekly":  d.Weekly,
		"monthly": d.Monthly,
	}
}

// DigestConfig tunes generated digests.
type DigestConfig struct {
	MaxNotifications int    `mapstructure:"max_notifications"`
	Channel          string `mapstructure:"channel"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebhookConfig configures the SMS and push gateways.
type WebhookConfig struct {
	SMS        GatewayConfig `mapstructure:"sms"`
	Push       GatewayConfig `mapstructure:"push"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

// GatewayConfig addresses one HTTP gateway. An empty URL leaves the channel unregistered.
type GatewayConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Namespace string `mapstructure:"namespace"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SchedulerMaxAge is how long a job may go without a successful run before readiness degrades.
	SchedulerMaxAge time.Duration `mapstructure:"scheduler_max_age"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults. The
// file is optional; every key may be overridden through the environment.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Scheduler.ProcessDueLimit <= 0 {
		return fmt.Errorf("config: scheduler.process_due_limit must be positive")
	}
	if c.Scheduler.GenerationHorizon <= 0 {
		return fmt.Errorf("config: scheduler.generation_horizon must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/csrnotify.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.enabled", false)
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.mysql.enabled", false)
	v.SetDefault("database.mysql.host", "")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "csrnotify")
	v.SetDefault("auth.jwt.audience", "")
	v.SetDefault("auth.jwt.access_token_ttl", "1h")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.process_due_spec", "@every 1m")
	v.SetDefault("scheduler.process_due_limit", 100)
	v.SetDefault("scheduler.claim_lease", "15m")
	v.SetDefault("scheduler.generation_spec", "@every 15m")
	v.SetDefault("scheduler.generation_horizon", "168h")
	v.SetDefault("scheduler.stats_spec", "@every 1m")
	v.SetDefault("scheduler.digests.hourly", "")
	v.SetDefault("scheduler.digests.daily", "0 8 * * *")
	v.SetDefault("scheduler.digests.weekly", "0 8 * * 1")
	v.SetDefault("scheduler.digests.monthly", "0 8 1 * *")

	v.SetDefault("digest.max_notifications", 50)
	v.SetDefault("digest.channel", "email")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("webhook.sms.url", "")
	v.SetDefault("webhook.sms.token", "")
	v.SetDefault("webhook.push.url", "")
	v.SetDefault("webhook.push.token", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.retry_count", 2)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.prometheus.namespace", "csrnotify")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.scheduler_max_age", "2h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
