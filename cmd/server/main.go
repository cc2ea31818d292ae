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
	"github.com/pneumonia-screening-server/internal/database"
	"github.com/pneumonia-screening-server/internal/repository"
	"github.com/pneumonia-screening-server/internal/service"
	"github.com/pneumonia-screening-server/internal/storage"
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
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL and run migrations
	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrationRunner(database.URL(cfg.Database), cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.Fatalf("Failed to create migration runner: %v", err)
	}
	if err := migrator.Up(); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	migrator.Close()

	// Repositories
	patients := repository.NewPatientRepository(db.Pool, logger)
	records := repository.NewMedicalRecordRepository(db.Pool, logger)
	diagnoses := repository.NewDiagnosisRepository(db.Pool, logger)

	// Image store
	images, err := storage.NewFileStore(cfg.Storage.MediaDir)
	if err != nil {
		logger.Fatalf("Failed to open media directory: %v", err)
	}

	// The model is loaded eagerly; a missing or malformed artifact is fatal.
	engine, err := service.NewONNXInferenceEngine(cfg.Model, cfg.Cache.InferenceEntries, logger)
	if err != nil {
		logger.Fatalf("Failed to load classification model: %v", err)
	}
	defer engine.Close()

	// Services
	intake := service.NewIntakeService(patients, records, diagnoses, images, engine, logger)
	worklist := service.NewWorklistService(patients, records, diagnoses, logger)
	diagnosis := service.NewDiagnosisService(diagnoses, logger)

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting pneumonia screening server")

	// Create server
	server := api.NewServer(configManager, intake, worklist, diagnosis, engine)

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
