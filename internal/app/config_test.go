package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/csrnotify/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 30, cfg.Server.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.True(t, cfg.Scheduler.Enabled)
	require.Equal(t, "@every 30s", cfg.Scheduler.ProcessDueSpec)
	require.Equal(t, 250, cfg.Scheduler.ProcessDueLimit)
	require.Equal(t, "@every 15m", cfg.Scheduler.GenerationSpec)
	require.Equal(t, 72*time.Hour, cfg.Scheduler.GenerationHorizon)
	require.Equal(t, DigestSpecs{Hourly: "@hourly", Daily: "0 8 * * *", Weekly: "0 8 * * 1"}, cfg.Scheduler.Digests)

	require.Equal(t, 20, cfg.Digest.MaxNotifications)
	require.Equal(t, "database", cfg.Digest.Channel)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.Equal(t, GatewayConfig{URL: "https://sms.example.com/send", Token: "sms-token"}, cfg.Webhook.SMS)
	require.Empty(t, cfg.Webhook.Push.URL)
	require.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
	require.Equal(t, 1, cfg.Webhook.RetryCount)
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/csrnotify.sqlite", cfg.Database.Path)
	require.Equal(t, 100, cfg.Scheduler.ProcessDueLimit)
	require.Equal(t, 15*time.Minute, cfg.Scheduler.ClaimLease)
	require.Equal(t, 168*time.Hour, cfg.Scheduler.GenerationHorizon)
	require.Empty(t, cfg.Scheduler.Digests.Hourly)
	require.Equal(t, 50, cfg.Digest.MaxNotifications)
	require.Equal(t, "email", cfg.Digest.Channel)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.Equal(t, 2*time.Hour, cfg.Monitoring.Health.SchedulerMaxAge)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("CSRNOTIFY_SERVER_PORT", "9191")
	t.Setenv("CSRNOTIFY_SCHEDULER_GENERATION_HORIZON", "48h")
	t.Setenv("CSRNOTIFY_AUTH_JWT_SECRET", "from-env")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, 48*time.Hour, cfg.Scheduler.GenerationHorizon)
	require.Equal(t, "from-env", cfg.Auth.JWT.Secret)
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database:\n  driver: oracle\n"), 0o600))

	_, err := LoadConfig(dir)
	require.ErrorContains(t, err, "unsupported database driver")

	cfg := Config{Database: DatabaseConfig{Driver: "sqlite"}, Server: ServerConfig{Port: 8080}}
	require.ErrorContains(t, cfg.Validate(), "process_due_limit")
}

func TestAuthConfigAdapter(t *testing.T) {
	cfg := AuthConfig{JWT: JWTSettings{Secret: "secret", Issuer: "issuer", Audience: "ops", TTL: 30 * time.Minute}}
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		Audience:       "ops",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.JWTServiceConfig())

	var empty AuthConfig
	require.Equal(t, auth.DefaultAccessTokenTTL, empty.JWTServiceConfig().AccessTokenTTL)
}

func TestEmailConfigAdapter(t *testing.T) {
	cfg := EmailConfig{
		SMTP: SMTPConfig{
			Enabled:  true,
			Host:     "smtp.example.com",
			Port:     2525,
			Username: "user",
			Password: "pass",
			From:     "no-reply@example.com",
			UseTLS:   true,
			Timeout:  10 * time.Second,
		},
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "user", settings.Username)
	require.Equal(t, "pass", settings.Password)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.True(t, settings.UseTLS)
	require.Equal(t, 10*time.Second, settings.Timeout)
}

func TestApplyRuntimeDefaults(t *testing.T) {
	cfg := &Config{}
	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["auth.jwt.secret"])
	require.NotEmpty(t, cfg.Auth.JWT.Secret)

	secret := cfg.Auth.JWT.Secret
	generated, err = ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, secret, cfg.Auth.JWT.Secret)

	_, err = ApplyRuntimeDefaults(nil)
	require.Error(t, err)
}

func TestDigestSpecsMap(t *testing.T) {
	specs := DigestSpecs{Daily: "0 8 * * *", Weekly: "0 8 * * 1"}.Map()
	require.Len(t, specs, 4)
	require.Equal(t, "0 8 * * *", specs["daily"])
	require.Empty(t, specs["hourly"])
}
