package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/candlefeed-go/internal/api/handlers"
	"github.com/irfndi/candlefeed-go/internal/database"
	"github.com/irfndi/candlefeed-go/pkg/marketdata"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
}

type Services struct {
	Database   string `json:"database"`
	Redis      string `json:"redis"`
	MarketData string `json:"market_data"`
}

func SetupRoutes(
	router *gin.Engine,
	db *database.PostgresDB,
	redis *database.RedisClient,
	market marketdata.MarketDataService,
	candleHandler *handlers.CandleHandler,
	collectionHandler *handlers.CollectionHandler,
) {
	// Health check endpoint
	router.GET("/health", healthCheck(db, redis, market))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/candles", candleHandler.GetCandles)

		collection := v1.Group("/collection")
		{
			collection.POST("/current", collectionHandler.TriggerCurrent)
			collection.POST("/historical", collectionHandler.TriggerHistorical)
			collection.GET("/status", collectionHandler.GetStatus)
			collection.GET("/stats", collectionHandler.GetStats)
		}
	}
}

func healthCheck(db *database.PostgresDB, redis *database.RedisClient, market marketdata.MarketDataService) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Services: Services{
				Database:   "ok",
				Redis:      "ok",
				MarketData: "ok",
			},
		}

		// Check database health
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Database = "error"
			response.Status = "degraded"
		}

		// Check Redis health
		if err := redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Redis = "error"
			response.Status = "degraded"
		}

		// Check the market data sidecar
		if !market.IsHealthy(c.Request.Context()) {
			response.Services.MarketData = "error"
			response.Status = "degraded"
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
