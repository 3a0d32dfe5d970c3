package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/api"
	"github.com/rwe-platform/statistician/internal/config"
	"github.com/rwe-platform/statistician/internal/database"
	"github.com/rwe-platform/statistician/internal/domain"
	"github.com/rwe-platform/statistician/internal/repository"
	"github.com/rwe-platform/statistician/internal/service"
	"github.com/rwe-platform/statistician/pkg/criterioncache"
	"github.com/rwe-platform/statistician/pkg/llmclient"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{"host": cfg.Server.Host, "port": cfg.Server.Port}).
		Info("starting statistician analytical pipeline service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig := database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		MaxConns:    int32(cfg.Database.MaxOpenConns),
		MinConns:    int32(cfg.Database.MaxIdleConns),
		MaxConnLife: cfg.Database.ConnMaxLifetime,
		MaxConnIdle: cfg.Database.ConnMaxLifetime,
		SSLMode:     cfg.Database.SSLMode,
	}
	db, err := database.NewConnection(ctx, dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	migrationsPath := os.Getenv("RWE_STAT_MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}
	migrationRunner, err := database.NewMigrationRunner(migrationDatabaseURL(cfg.Database), migrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize migration runner")
	}
	if err := migrationRunner.Up(ctx); err != nil {
		logger.WithError(err).Fatal("failed to run database migrations")
	}

	jobStore := repository.NewJobStore(db.Pool, logger)

	criterionCache, err := criterioncache.NewClient(cfg.Cache)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize criterion cache")
	}
	defer criterionCache.Close()

	registry := service.NewCovariateRegistry(logger)
	loader := service.NewCohortLoaderService(logger, registry)
	balance := service.NewBalanceDiagnosticsService(logger, cfg.Pipeline.SMDBalancedThreshold)

	matchers := []domain.MatchingMethod{
		service.NewPSMMatcher(logger, cfg.Pipeline.PropensityModel.MaxIter),
		service.NewPSMCaliperMatcher(logger, cfg.Pipeline.PropensityModel.MaxIter, cfg.Pipeline.Caliper),
		service.NewMahalanobisMatcher(logger),
		service.NewIPTWWeighter(logger, cfg.Pipeline.PropensityModel.MaxIter),
	}

	var llmClient *llmclient.Client
	var judge domain.LLMJudge
	var summarizer domain.Summarizer
	if !cfg.Pipeline.LLM.Disabled && cfg.Pipeline.LLM.APIKey != "" {
		llmClient = llmclient.NewClient(logger, cfg.Pipeline.LLM)
		judge = llmClient
		summarizer = llmClient
	} else {
		logger.Warn("LLM client disabled; method selection and summarisation will use deterministic fallbacks")
	}

	selector := service.NewMethodSelectorService(logger, judge)
	survival := service.NewSurvivalModelService(logger)
	hetero := service.NewCausalForestService(logger)
	renderer := service.NewArtifactRendererService(logger)

	orchestrator := service.NewOrchestratorService(
		logger, registry, loader, balance, matchers, selector, survival, hetero, renderer, summarizer,
	)
	agentWrapper := service.NewAgentWrapperService(logger, orchestrator, jobStore, cfg.Pipeline)

	server := api.NewServer(configManager, agentWrapper, jobStore)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("server failed to start")
	}

	logger.Info("server stopped")
}

// migrationDatabaseURL builds the postgres:// URL golang-migrate's source
// driver expects, distinct from pgxpool's key=value DSN.
func migrationDatabaseURL(cfg domain.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	}

	return logger
}
