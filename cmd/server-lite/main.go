// Package main provides the lightweight entry point for the pneumonia
// screening server. This version requires no external database - patient
// data lives in SQLite and images on the local filesystem.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/pneumonia-screening-server/internal/api"
	"github.com/pneumonia-screening-server/internal/config"
	"github.com/pneumonia-screening-server/internal/repository"
	"github.com/pneumonia-screening-server/internal/service"
	"github.com/pneumonia-screening-server/internal/storage"
)

func main() {
	// Load lightweight configuration
	cfg := config.LoadLiteConfig()
	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	manager := config.NewLiteManager(cfg)
	if err := manager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	logger.WithField("data_dir", cfg.DataDir).Info("Starting pneumonia screening server (lite)")

	// Open SQLite store
	store, err := repository.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	// Image store
	images, err := storage.NewFileStore(cfg.MediaDir())
	if err != nil {
		logger.Fatalf("Failed to open media directory: %v", err)
	}

	// The model is loaded eagerly; a missing or malformed artifact is fatal.
	engine, err := service.NewONNXInferenceEngine(*manager.GetModelConfig(), cfg.InferenceCacheEntries, logger)
	if err != nil {
		logger.Fatalf("Failed to load classification model: %v", err)
	}
	defer engine.Close()

	// Services
	intake := service.NewIntakeService(store.Patients(), store.MedicalRecords(), store.Diagnoses(), images, engine, logger)
	worklist := service.NewWorklistService(store.Patients(), store.MedicalRecords(), store.Diagnoses(), logger)
	diagnosis := service.NewDiagnosisService(store.Diagnoses(), logger)

	// Create server
	server := api.NewServer(manager, intake, worklist, diagnosis, engine)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}

	logger.Info("Server stopped")
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
