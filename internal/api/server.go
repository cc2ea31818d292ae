package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pneumonia-screening-server/internal/domain"
	"github.com/pneumonia-screening-server/internal/middleware"
	"github.com/pneumonia-screening-server/internal/service"
)

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	intake        *service.IntakeService
	worklist      *service.WorklistService
	diagnosis     *service.DiagnosisService
	classifier    domain.Classifier
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(
	configManager domain.ConfigManager,
	intake *service.IntakeService,
	worklist *service.WorklistService,
	diagnosis *service.DiagnosisService,
	classifier domain.Classifier,
) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())

	server := &Server{
		configManager: configManager,
		intake:        intake,
		worklist:      worklist,
		diagnosis:     diagnosis,
		classifier:    classifier,
		router:        router,
	}

	server.setupRoutes(cfg.RateLimit)

	return server
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("starting server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(limits domain.RateLimitConfig) {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	classifyLimit := middleware.RateLimit(limits.ClassifyPerSecond, limits.ClassifyBurst)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/patients", s.handleUpsertPatient)
		v1.GET("/patients/:id", s.handleGetPatient)
		v1.DELETE("/patients/:id", s.handleDeletePatient)
		v1.GET("/patients/:id/records", s.handlePatientHistory)
		v1.POST("/patients/:id/records", s.handleSubmitRecord)

		v1.GET("/records/:id", s.handleGetRecord)
		v1.GET("/records/:id/image", s.handleRecordImage)
		v1.POST("/records/:id/classify", classifyLimit, s.handleClassifyRecord)

		v1.POST("/analyze", classifyLimit, s.handleAnalyze)

		v1.GET("/worklist", s.handleWorklist)
		v1.GET("/worklist/stats", s.handleWorklistStats)

		v1.GET("/diagnoses/:id", s.handleGetDiagnosis)
		v1.PUT("/diagnoses/:id/finalize", s.handleFinalizeDiagnosis)
		v1.DELETE("/diagnoses/:id", s.handleDeleteDiagnosis)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Correlation-ID, X-Diagnostician")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
