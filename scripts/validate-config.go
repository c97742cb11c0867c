package main

import (
	"context"
	"fmt"
	"os"

	"github.com/irfndi/candlefeed-go/internal/config"
	"github.com/irfndi/candlefeed-go/internal/logging"
	"github.com/irfndi/candlefeed-go/pkg/marketdata"
	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("🔧 Validating collection configuration...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  Warning: Could not load .env file: %v\n", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Configuration loaded (environment: %s)\n", cfg.Environment)
	fmt.Printf("   Current cadence:  %s\n", cfg.Collection.CurrentIntervalDuration())
	fmt.Printf("   Historical time:  %s UTC\n", cfg.Collection.HistoricalTime)
	fmt.Printf("   Backfill epoch:   %s\n", cfg.Collection.BackfillStartTime().Format("2006-01-02"))
	fmt.Printf("   Page size:        %d\n", cfg.Collection.BackfillPageSize)
	fmt.Printf("   Concurrency:      %d global / %d per exchange\n",
		cfg.Collection.MaxConcurrentUnits, cfg.Collection.PerExchangeConcurrency)

	// Try to reach the market data sidecar (this makes an actual API call)
	fmt.Println("🔍 Testing market data sidecar connection...")
	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	market := marketdata.NewService(&cfg.MarketData, marketdata.RetryPolicyFromConfig(cfg.Collection), logger)
	if err := market.Initialize(context.Background()); err != nil {
		fmt.Printf("❌ Failed to reach market data sidecar: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = market.Close() }()

	fmt.Printf("✅ Sidecar reachable, %d exchanges available\n", len(market.SupportedExchanges()))
	fmt.Println("\n🎉 All configuration checks passed!")
}
