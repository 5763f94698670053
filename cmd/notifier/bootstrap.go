package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/csrnotify/internal/api"
	"github.com/charlesng35/csrnotify/internal/app"
	"github.com/charlesng35/csrnotify/internal/app/scheduler"
	iauth "github.com/charlesng35/csrnotify/internal/auth"
	"github.com/charlesng35/csrnotify/internal/database"
	"github.com/charlesng35/csrnotify/internal/dispatch"
	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/monitoring"
	"github.com/charlesng35/csrnotify/internal/monitoring/checks"
	"github.com/charlesng35/csrnotify/internal/realtime"
	"github.com/charlesng35/csrnotify/internal/repository"
	"github.com/charlesng35/csrnotify/internal/services"
	"github.com/charlesng35/csrnotify/pkg/logger"
	"github.com/charlesng35/csrnotify/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Monitoring *monitoring.Module
	Hub        *realtime.Hub
	Engine     *services.Engine
	Scheduler  *scheduler.Scheduler
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, delivery channels, engine, scheduler and router.
func bootstrapRuntime(_ context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	notifications, err := repository.NewNotificationRepository(stack.DB)
	if err != nil {
		return nil, err
	}
	prefs, err := repository.NewPreferenceRepository(stack.DB)
	if err != nil {
		return nil, err
	}

	stack.Monitoring, err = monitoring.NewModule(monitoring.Options{Namespace: cfg.Monitoring.Prometheus.Namespace})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(stack.Monitoring)

	stack.Hub = realtime.NewHub(logger.WithModule("realtime"))

	registry, err := buildDispatchRegistry(cfg, prefs, stack.Hub, log)
	if err != nil {
		return nil, err
	}

	stack.Engine, err = services.NewEngine(services.EngineDeps{
		Notifications: notifications,
		Preferences:   prefs,
		Dispatcher:    registry,
		Digest: services.DigestConfig{
			MaxNotifications: cfg.Digest.MaxNotifications,
			Channel:          cfg.Digest.Channel,
		},
	},
		services.WithMetrics(stack.Monitoring),
		services.WithPublisher(stack.Hub),
		services.WithClaimLease(cfg.Scheduler.ClaimLease),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise scheduling engine: %w", err)
	}

	registerHealthChecks(cfg, stack.Monitoring, stack.DB)

	if cfg.Scheduler.Enabled {
		stack.Scheduler, err = scheduler.New(stack.Engine, schedulerConfig(cfg),
			scheduler.WithRecorder(stack.Monitoring),
			scheduler.WithBroadcaster(stack.Hub),
		)
		if err != nil {
			return nil, err
		}
		if err := stack.Scheduler.Start(); err != nil {
			return nil, fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		log.Info("scheduler disabled; batches run only through the admin api")
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Deps{
		Config:      cfg,
		Engine:      stack.Engine,
		Preferences: prefs,
		Tokens:      jwtSvc,
		Monitoring:  stack.Monitoring,
		Hub:         stack.Hub,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops the scheduler and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		select {
		case <-s.Scheduler.Stop().Done():
		case <-ctx.Done():
			log.Warn("scheduler shutdown interrupted", zap.Error(ctx.Err()))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func buildDispatchRegistry(cfg *app.Config, prefs repository.PreferenceRepository, hub *realtime.Hub, log *zap.Logger) (*dispatch.Registry, error) {
	registry := dispatch.NewRegistry(dispatch.WithLogger(logger.WithModule("dispatch")))

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; email notifications will fail until configured")
	}
	email, err := dispatch.NewEmailSender(mailer, prefs)
	if err != nil {
		return nil, err
	}
	registry.Register(models.ChannelEmail, email)
	registry.Register(models.ChannelDatabase, dispatch.NewInAppSender(hub))

	gateways := []struct {
		channel string
		gateway app.GatewayConfig
	}{
		{models.ChannelSMS, cfg.Webhook.SMS},
		{models.ChannelPush, cfg.Webhook.Push},
	}
	for _, gw := range gateways {
		if strings.TrimSpace(gw.gateway.URL) == "" {
			continue
		}
		sender, err := dispatch.NewWebhookSender(dispatch.WebhookConfig{
			URL:        gw.gateway.URL,
			Token:      gw.gateway.Token,
			Timeout:    cfg.Webhook.Timeout,
			RetryCount: cfg.Webhook.RetryCount,
		}, prefs)
		if err != nil {
			return nil, fmt.Errorf("initialise %s gateway: %w", gw.channel, err)
		}
		registry.Register(gw.channel, sender)
	}

	log.Info("delivery channels registered", zap.Strings("channels", registry.Channels()))
	return registry, nil
}

func registerHealthChecks(cfg *app.Config, module *monitoring.Module, db *gorm.DB) {
	if !cfg.Monitoring.Health.Enabled {
		return
	}
	health := module.Health()
	health.RegisterReadiness(checks.Database(db, 0))
	health.RegisterLiveness(checks.Realtime(module))
	if cfg.Scheduler.Enabled {
		health.RegisterReadiness(checks.Scheduler(module, cfg.Monitoring.Health.SchedulerMaxAge))
	}
}

func schedulerConfig(cfg *app.Config) scheduler.Config {
	return scheduler.Config{
		ProcessDueSpec:    cfg.Scheduler.ProcessDueSpec,
		ProcessDueLimit:   cfg.Scheduler.ProcessDueLimit,
		GenerationSpec:    cfg.Scheduler.GenerationSpec,
		GenerationHorizon: cfg.Scheduler.GenerationHorizon,
		StatsSpec:         cfg.Scheduler.StatsSpec,
		Digests:           cfg.Scheduler.Digests.Map(),
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
