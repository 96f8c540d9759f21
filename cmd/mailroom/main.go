package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crm-mailroom/internal/ai"
	"crm-mailroom/internal/config"
	"crm-mailroom/internal/engine"
	"crm-mailroom/internal/handlers"
	"crm-mailroom/internal/mailbox"
	"crm-mailroom/internal/mailer"
	"crm-mailroom/internal/metrics"
	"crm-mailroom/internal/models"
	"crm-mailroom/internal/repository"
	"crm-mailroom/internal/responder"
	"crm-mailroom/internal/scheduler"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting CRM Mailroom Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize database
	db, err := initDatabase(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	repo := repository.New(db)
	m := metrics.NewMetrics()

	// Mail plumbing: inbound IMAP session factory, outbound SMTP sender
	imapClient := mailbox.NewIMAPClient(cfg.IMAP)
	smtpSender := mailer.NewSMTPSender(cfg.SMTP)

	// Auto-responder with AI provider failover
	autoResponder := responder.New(repo, ai.NewClient(), smtpSender, m)

	// Ingestion engine; auto-replies fire out of the ingestion loop
	eng := engine.New(repo, imapClient,
		func(ctx context.Context, customerID, caseID uint) {
			autoResponder.MaybeAutoReply(ctx, customerID, caseID)
		},
		m, cfg.Scheduler.DefaultIntervalSeconds, cfg.Scheduler.Mailbox)

	// Scheduler owns the process-wide polling timer
	sched := scheduler.New(eng, repo, cfg.Scheduler.DefaultIntervalSeconds, cfg.Scheduler.Mailbox)
	if err := sched.EnsureRunning(); err != nil {
		logrus.Errorf("Failed to start polling timer: %v", err)
	}

	// HTTP surface
	h := handlers.NewHandlers(db, repo, sched, handlers.PollingDefaults{
		IntervalSeconds: cfg.Scheduler.DefaultIntervalSeconds,
		Mailbox:         cfg.Scheduler.Mailbox,
	})
	router := setupRouter(h)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}

// initDatabase initializes the database connection and runs migrations
func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logrus.Info("Database initialized successfully")
	return db, nil
}

// runMigrations runs database migrations
func runMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.AutoMigrate(
		&models.PollingConfig{},
		&models.InboundMessage{},
		&models.DeletionTombstone{},
		&models.Customer{},
		&models.Case{},
		&models.CaseVersion{},
		&models.Campaign{},
		&models.AgentUser{},
		&models.Communication{},
		&models.AIProviderConfig{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

// setupRouter sets up the HTTP router with middleware
func setupRouter(h *handlers.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	h.SetupRoutes(router)
	return router
}

// loggerMiddleware adds logging middleware
func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
