package marketdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/irfndi/candlefeed-go/internal/config"
	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Service manages the sidecar connection and one adapter per exchange
type Service struct {
	client      *Client
	logger      *logrus.Logger
	retry       RetryPolicy
	mu          sync.RWMutex
	adapters    map[string]*Adapter
	exchanges   []string
	initialized bool
}

// NewService creates a new market data service backed by the CCXT sidecar.
// Every adapter it builds shares the given retry policy.
func NewService(cfg *config.MarketDataConfig, retry RetryPolicy, logger *logrus.Logger) *Service {
	return &Service{
		client:   NewClient(cfg),
		logger:   logger,
		retry:    retry,
		adapters: make(map[string]*Adapter),
	}
}

// Initialize verifies the sidecar is reachable and loads the venue list
func (s *Service) Initialize(ctx context.Context) error {
	health, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("market data sidecar health check failed: %w", err)
	}
	if health.Status != "ok" && health.Status != "healthy" {
		return fmt.Errorf("market data sidecar unhealthy: %s", health.Status)
	}

	resp, err := s.client.GetExchanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sidecar exchanges: %w", err)
	}

	exchanges := make([]string, 0, len(resp.Exchanges))
	for _, ex := range resp.Exchanges {
		exchanges = append(exchanges, ex.ID)
	}

	s.mu.Lock()
	s.exchanges = exchanges
	s.initialized = true
	s.mu.Unlock()

	s.logger.WithField("exchanges", len(exchanges)).Info("Market data service initialized")
	return nil
}

// IsHealthy checks whether the sidecar currently responds
func (s *Service) IsHealthy(ctx context.Context) bool {
	health, err := s.client.HealthCheck(ctx)
	if err != nil {
		return false
	}
	return health.Status == "ok" || health.Status == "healthy"
}

// Close releases the underlying client
func (s *Service) Close() error {
	return s.client.Close()
}

// SupportedExchanges lists the venue codes the sidecar can serve
func (s *Service) SupportedExchanges() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// AdapterFor returns the adapter for an exchange, creating and caching it on
// first use. The adapter's throttle is sized from the exchange's configured
// rate-limit budget.
func (s *Service) AdapterFor(exchange models.Exchange) ExchangeAdapter {
	s.mu.RLock()
	adapter, ok := s.adapters[exchange.Code]
	s.mu.RUnlock()
	if ok {
		return adapter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if adapter, ok := s.adapters[exchange.Code]; ok {
		return adapter
	}

	adapter = NewAdapter(exchange.Code, s.client, exchange.RateLimit, s.retry, s.logger)
	s.adapters[exchange.Code] = adapter
	return adapter
}
