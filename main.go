package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ea-license-server/config"
	"ea-license-server/internal/actionlog"
	"ea-license-server/internal/api"
	"ea-license-server/internal/auth"
	"ea-license-server/internal/cache"
	"ea-license-server/internal/commands"
	"ea-license-server/internal/database"
	"ea-license-server/internal/email"
	"ea-license-server/internal/events"
	"ea-license-server/internal/license"
	"ea-license-server/internal/logging"
	"ea-license-server/internal/telemetry"
	"ea-license-server/internal/vault"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	// Initialize database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo := database.NewRepository(db)

	// Vault holds the JWT secret and SMTP credentials in production.
	// When Vault is disabled the client serves configured fallbacks.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to initialize vault client: %v", err)
	}
	vaultClient.StoreJWTSecret(cfg.AuthConfig.JWTSecret)

	// Redis verify cache and agent presence, optional
	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without verify cache")
			cacheService = nil
		} else {
			defer cacheService.Close()
			logger.Info("Redis cache initialized")
		}
	}

	// Domain services
	authority := license.NewAuthority(repo)
	ingester := telemetry.NewIngester(repo, eventBus, zlog)
	queue := commands.NewQueue(repo, eventBus, zlog)
	recorder := actionlog.NewRecorder(repo, eventBus, zlog)
	emailService := email.NewService(repo, vaultClient)

	// Operator authentication
	var authService *auth.Service
	var jwtManager *auth.JWTManager
	if cfg.AuthConfig.Enabled {
		jwtSecret, err := vaultClient.JWTSecret(ctx)
		if err != nil || jwtSecret == "" {
			log.Fatalf("Failed to resolve JWT secret: %v", err)
		}
		jwtManager = auth.NewJWTManager(jwtSecret, cfg.AuthConfig.AccessTokenDuration)
		passwords := auth.NewPasswordManager(auth.DefaultBcryptCost, cfg.AuthConfig.MinPasswordLength)
		authService = auth.NewService(repo, jwtManager, passwords)

		if err := authService.SeedAdmin(ctx, cfg.AuthConfig.SeedAdminEmail, cfg.AuthConfig.SeedAdminPassword); err != nil {
			logger.WithError(err).Warn("Failed to seed admin account")
		}
		logger.Info("Operator authentication enabled")
	} else {
		logger.Warn("Operator authentication DISABLED, admin API is open")
	}

	serverConfig := api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		AllowedOrigins: splitOrigins(cfg.ServerConfig.AllowedOrigins),
	}

	server := api.NewServer(serverConfig, cfg.AgentConfig, api.Services{
		Repo:         repo,
		Authority:    authority,
		Ingester:     ingester,
		Queue:        queue,
		Recorder:     recorder,
		EventBus:     eventBus,
		AuthService:  authService,
		JWTManager:   jwtManager,
		EmailService: emailService,
		CacheService: cacheService,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()

	logger.Info("License server started", "host", serverConfig.Host, "port", serverConfig.Port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down API server")
	}

	logger.Info("Shutdown complete")
}

// splitOrigins turns the comma separated CORS origin list into a
// slice, dropping empties. "*" and "" both mean defaults.
func splitOrigins(origins string) []string {
	if origins == "" || origins == "*" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
