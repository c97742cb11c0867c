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
	"github.com/irfndi/candlefeed-go/internal/api"
	"github.com/irfndi/candlefeed-go/internal/api/handlers"
	"github.com/irfndi/candlefeed-go/internal/cache"
	"github.com/irfndi/candlefeed-go/internal/config"
	"github.com/irfndi/candlefeed-go/internal/database"
	"github.com/irfndi/candlefeed-go/internal/logging"
	"github.com/irfndi/candlefeed-go/internal/services"
	"github.com/irfndi/candlefeed-go/pkg/marketdata"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load .env if present; real deployments use environment variables
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	// Initialize database
	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Redis
	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Initialize the market data sidecar connection
	market := marketdata.NewService(&cfg.MarketData, marketdata.RetryPolicyFromConfig(cfg.Collection), logger)
	if err := market.Initialize(context.Background()); err != nil {
		logger.Fatalf("Failed to initialize market data service: %v", err)
	}
	defer func() {
		if err := market.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close market data service")
		}
	}()

	// Wire the collection engine
	repo := database.NewCandleRepository(db.Pool)
	cursors := cache.NewRedisCursorCache(redis.Client)
	collector := services.NewCollectorService(repo, market, cursors, cfg.Collection, logger)
	scheduler := services.NewSchedulerService(collector, cfg.Collection, logger)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	candleHandler := handlers.NewCandleHandler(repo)
	collectionHandler := handlers.NewCollectionHandler(scheduler, collector, repo)
	api.SetupRoutes(router, db, redis, market, candleHandler, collectionHandler)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
