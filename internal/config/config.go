package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	MarketData  MarketDataConfig `mapstructure:"market_data"`
	Collection  CollectionConfig `mapstructure:"collection"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MarketDataConfig configures the CCXT sidecar service that performs the
// actual exchange calls.
type MarketDataConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Timeout    int    `mapstructure:"timeout"`
}

// CollectionConfig configures the two collection cadences and the fan-out
// bounds shared by both of them.
type CollectionConfig struct {
	CurrentInterval        string `mapstructure:"current_interval"`
	HistoricalTime         string `mapstructure:"historical_time"`
	BackfillStart          string `mapstructure:"backfill_start"`
	BackfillPageSize       int    `mapstructure:"backfill_page_size"`
	CurrentFetchLimit      int    `mapstructure:"current_fetch_limit"`
	MaxConcurrentUnits     int    `mapstructure:"max_concurrent_units"`
	PerExchangeConcurrency int    `mapstructure:"per_exchange_concurrency"`
	MaxRetries             int    `mapstructure:"max_retries"`
	RetryInitialDelay      string `mapstructure:"retry_initial_delay"`
	RetryMaxDelay          string `mapstructure:"retry_max_delay"`
	RunTimeBudget          string `mapstructure:"run_time_budget"`
}

// CurrentIntervalDuration returns the parsed current-candle cadence.
func (c *CollectionConfig) CurrentIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(c.CurrentInterval); err == nil && d > 0 {
		return d
	}
	return 15 * time.Second
}

// RunTimeBudgetDuration returns the parsed soft time budget for one run.
func (c *CollectionConfig) RunTimeBudgetDuration() time.Duration {
	if d, err := time.ParseDuration(c.RunTimeBudget); err == nil && d > 0 {
		return d
	}
	return 20 * time.Minute
}

// BackfillStartTime returns the fixed historical epoch the walker starts from.
func (c *CollectionConfig) BackfillStartTime() time.Time {
	if t, err := time.Parse(time.RFC3339, c.BackfillStart); err == nil {
		return t.UTC()
	}
	return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Normalize environment to lowercase for consistent comparison
	config.Environment = strings.ToLower(config.Environment)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if _, err := time.ParseDuration(config.Collection.CurrentInterval); err != nil {
		return fmt.Errorf("invalid collection.current_interval: %w", err)
	}
	if _, err := time.Parse("15:04", config.Collection.HistoricalTime); err != nil {
		return fmt.Errorf("invalid collection.historical_time (expected HH:MM): %w", err)
	}
	if _, err := time.Parse(time.RFC3339, config.Collection.BackfillStart); err != nil {
		return fmt.Errorf("invalid collection.backfill_start: %w", err)
	}
	if config.Collection.BackfillPageSize <= 0 {
		return fmt.Errorf("collection.backfill_page_size must be positive, got %d",
			config.Collection.BackfillPageSize)
	}
	if config.Collection.MaxConcurrentUnits <= 0 {
		return fmt.Errorf("collection.max_concurrent_units must be positive, got %d",
			config.Collection.MaxConcurrentUnits)
	}
	if config.Collection.PerExchangeConcurrency <= 0 {
		return fmt.Errorf("collection.per_exchange_concurrency must be positive, got %d",
			config.Collection.PerExchangeConcurrency)
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Set database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "candlefeed")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Market data sidecar
	viper.SetDefault("market_data.service_url", "http://localhost:3001")
	viper.SetDefault("market_data.timeout", 30)

	// Collection
	viper.SetDefault("collection.current_interval", "15s")
	viper.SetDefault("collection.historical_time", "00:30")
	viper.SetDefault("collection.backfill_start", "2020-01-01T00:00:00Z")
	viper.SetDefault("collection.backfill_page_size", 1000)
	viper.SetDefault("collection.current_fetch_limit", 2)
	viper.SetDefault("collection.max_concurrent_units", 8)
	viper.SetDefault("collection.per_exchange_concurrency", 1)
	viper.SetDefault("collection.max_retries", 3)
	viper.SetDefault("collection.retry_initial_delay", "100ms")
	viper.SetDefault("collection.retry_max_delay", "5s")
	viper.SetDefault("collection.run_time_budget", "20m")
}
