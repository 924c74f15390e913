package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/ai"
	"github.com/candorhq/candor/internal/api"
	"github.com/candorhq/candor/internal/app"
	"github.com/candorhq/candor/internal/app/maintenance"
	"github.com/candorhq/candor/internal/cache"
	"github.com/candorhq/candor/internal/database"
	"github.com/candorhq/candor/internal/middleware"
	"github.com/candorhq/candor/internal/monitoring"
	"github.com/candorhq/candor/internal/monitoring/checks"
	"github.com/candorhq/candor/internal/worker"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/mail"
)

const workerStopTimeout = 30 * time.Second

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Redis    *cache.RedisStore
	Services *app.Services
	Workers  *worker.Pool
	Cleaner  *maintenance.Cleaner
	Registry *monitoring.MaintenanceRegistry
	Health   *monitoring.HealthManager
	Router   *gin.Engine
}

// bootstrapCore opens storage and assembles the service graph. It is shared
// by the server and the administrative commands.
func bootstrapCore(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	mailer, err := newMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	analyzer, err := ai.New(ctx, cfg.AI.AnalyzerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise analyzer: %w", err)
	}
	log.Info("analyzer ready", zap.String("analyzer", analyzer.Name()))

	deps := app.Dependencies{Mailer: mailer, Analyzer: analyzer}
	if stack.Redis != nil {
		deps.Cache = stack.Redis
	}

	stack.Services, err = app.NewServices(stack.DB, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}

	success = true
	return stack, nil
}

// bootstrapRuntime extends the core with workers, maintenance, health probes
// and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack, err := bootstrapCore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	success := false
	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	svc := stack.Services

	stack.Workers, err = worker.NewPool(cfg.Analysis.PoolConfig(), svc.Analysis.ProcessNext)
	if err != nil {
		return nil, fmt.Errorf("initialise analysis workers: %w", err)
	}
	svc.Feedback.SetNotifier(stack.Workers)
	stack.Workers.Start(ctx)

	stack.Registry = monitoring.NewMaintenanceRegistry()
	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(maintenanceTargets(stack),
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithInvitationGrace(cfg.Maintenance.InvitationGrace),
			maintenance.WithRecorder(stack.Registry),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Health = newHealthManager(cfg, stack)

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:        stack.DB,
		Config:    cfg,
		Services:  svc,
		RateStore: middleware.NewCacheRateStore(svc.Cache),
		Health:    stack.Health,
		Notifier:  stack.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func maintenanceTargets(stack *runtimeStack) maintenance.Targets {
	svc := stack.Services
	targets := maintenance.Targets{
		Sessions:    svc.Sessions,
		MagicLinks:  svc.MagicLinks,
		Invitations: svc.Invitations,
		Audit:       svc.Audit,
		Teams:       svc.Teams,
		Queue:       svc.Analysis,
	}
	// Redis expires its own keys; only the database store needs purging.
	if purger, ok := svc.Cache.(maintenance.CachePurger); ok {
		targets.Cache = purger
	}
	return targets
}

func newHealthManager(cfg *app.Config, stack *runtimeStack) *monitoring.HealthManager {
	timeout := cfg.Monitoring.Health.Timeout

	var pinger checks.Pinger
	if stack.Redis != nil {
		pinger = stack.Redis
	}

	return monitoring.NewHealthManager(
		checks.Database(stack.DB, timeout),
		checks.Cache(pinger, timeout),
		checks.AnalysisBacklog(stack.DB, cfg.Monitoring.Health.AnalysisLag, nil),
		checks.Maintenance(stack.Registry, 0, nil),
	)
}

func newMailer(cfg *app.Config, log *zap.Logger) (mail.Mailer, error) {
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; sign-in links and invitations will not be emailed")
		return nil, nil
	}
	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	return mailer, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Workers != nil {
		stopCtx, cancel := context.WithTimeout(ctx, workerStopTimeout)
		if err := s.Workers.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("analysis workers did not stop cleanly", zap.Error(err))
		}
		cancel()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			for _, jobErr := range multierr.Errors(err) {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(jobErr))
			}
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

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
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
