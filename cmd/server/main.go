package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/api"
	"github.com/preventive-health-engine/internal/audit"
	"github.com/preventive-health-engine/internal/config"
	"github.com/preventive-health-engine/internal/database"
	"github.com/preventive-health-engine/internal/domain"
	"github.com/preventive-health-engine/internal/guidelines"
	"github.com/preventive-health-engine/internal/repository"
	"github.com/preventive-health-engine/internal/service"
	"github.com/preventive-health-engine/internal/timeline"
	"github.com/preventive-health-engine/pkg/external"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := buildLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":   cfg.Server.Host,
		"port":   cfg.Server.Port,
		"driver": cfg.Storage.Driver,
	}).Info("Starting preventive health engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := timeline.NewStore(logger)
	resolver := guidelines.NewResolver(buildGuidelineSource(cfg, logger), cfg.Engine.Gap.RelaxationOrder, logger)

	trends, err := service.NewTrendDetectorService(cfg.Engine.Trend, cfg.Cache.TrendLRUSize, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create trend detector")
	}

	auditStore, err := buildAuditStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open assessment store")
	}
	defer auditStore.Close()

	var notifier domain.Notifier
	if cfg.Notify.Enabled && cfg.Notify.BaseURL != "" {
		notifier = external.NewNotificationClient(external.NotifierConfig{
			BaseURL:       cfg.Notify.BaseURL,
			Timeout:       cfg.Notify.Timeout,
			RatePerSecond: cfg.Notify.RatePerSecond,
			Burst:         cfg.Notify.Burst,
		}, logger)
	}

	assessor := service.NewAssessorService(
		store,
		resolver,
		trends,
		service.NewGapDetectorService(resolver, cfg.Engine.Gap, logger),
		service.NewRiskAggregatorService(cfg.Engine.Aggregation, logger),
		service.NewRecommendationGeneratorService(cfg.Engine.Gap, logger),
		service.NewExplanationBuilderService(cfg.Engine.Explanation, logger),
		auditStore,
		notifier,
		logger,
	)

	server := api.NewServer(cfg.Server, cfg.Logging.Level, assessor, store, auditStore, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// buildLogger configures logrus from the logging section
func buildLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

// buildGuidelineSource selects the live Guidelines Database client or the
// built-in baseline set
func buildGuidelineSource(cfg *config.Config, logger *logrus.Logger) guidelines.Source {
	if cfg.Guidelines.BaseURL == "" {
		logger.Info("No guidelines database configured, using built-in baseline set")
		return guidelines.NewStaticSource(guidelines.Baseline())
	}

	var cache *external.CacheClient
	if cfg.Cache.Enabled {
		c, err := external.NewCacheClient(external.CacheConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			logger.WithError(err).Warn("Guideline cache unavailable, continuing without it")
		} else {
			cache = c
		}
	}

	return external.NewGuidelinesClient(external.GuidelinesConfig{
		BaseURL: cfg.Guidelines.BaseURL,
		Timeout: cfg.Guidelines.Timeout,
	}, cache, guidelines.Baseline(), logger)
}

// buildAuditStore opens the configured assessment store, running postgres
// migrations when needed
func buildAuditStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (domain.AssessmentStore, error) {
	if cfg.Storage.Driver != "postgres" {
		return audit.NewSQLiteStore(cfg.Storage.SQLite.Path, logger)
	}

	runner, err := database.NewMigrationRunner(database.URL(cfg.Storage.Postgres), logger)
	if err != nil {
		return nil, err
	}
	if err := runner.Up(); err != nil {
		runner.Close()
		return nil, err
	}
	if err := runner.Close(); err != nil {
		logger.WithError(err).Warn("Closing migration runner failed")
	}

	db, err := database.NewConnection(ctx, cfg.Storage.Postgres, logger)
	if err != nil {
		return nil, err
	}

	return repository.NewAssessmentRepository(db.Pool, logger), nil
}
