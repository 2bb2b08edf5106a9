package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/concordance-score-server/internal/api"
	"github.com/concordance-score-server/internal/config"
	"github.com/concordance-score-server/internal/domain"
	"github.com/concordance-score-server/internal/rules"
	"github.com/concordance-score-server/internal/service"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	// Load guideline rules when a rules file is configured
	var registry *rules.Registry
	var ruleSource domain.RuleSource
	if cfg.Rules.File != "" {
		registry, err = rules.LoadFile(cfg.Rules.File, cfg.Rules.DefaultGraceDays)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load guideline rules")
		}
		ruleSource = registry
		logger.WithFields(logrus.Fields{
			"file":       cfg.Rules.File,
			"indicators": len(registry.Indicators()),
		}).Info("Loaded guideline rules")
	} else {
		logger.Warn("No rules file configured; requests must supply rules inline")
	}

	// Wire services
	calculator := service.NewConcordanceCalculator(logger)
	scorer := service.NewScorerService(logger, ruleSource, calculator)
	cache, err := service.NewResultCache(cfg.Limits.ResultCacheSize)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create result cache")
	}

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting concordance score server")

	server := api.NewServer(configManager, logger, calculator, scorer, registry, cache)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
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
