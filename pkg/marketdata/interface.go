package marketdata

import (
	"context"
	"time"

	"github.com/irfndi/candlefeed-go/internal/models"
	"golang.org/x/time/rate"
)

// ExchangeAdapter is the fixed capability set one venue exposes to the
// collection engine. Callers never depend on which venue sits behind it.
type ExchangeAdapter interface {
	// ExchangeID returns the venue code (e.g. "binance")
	ExchangeID() string
	// RateBudget returns the venue's request budget in requests per second
	RateBudget() rate.Limit
	// FetchCandles retrieves up to limit bars starting at since (or the most
	// recent bars when since is nil). Failures are classified as
	// rate-limited, transient or fatal; the first two are retried internally
	// with bounded backoff before surfacing.
	FetchCandles(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]OHLCV, error)
}

// MarketDataService builds and caches one adapter per configured exchange
type MarketDataService interface {
	// Service lifecycle
	Initialize(ctx context.Context) error
	IsHealthy(ctx context.Context) bool
	Close() error

	// AdapterFor returns the adapter for an exchange, creating it on first use
	AdapterFor(exchange models.Exchange) ExchangeAdapter
	// SupportedExchanges lists the venue codes the sidecar can serve
	SupportedExchanges() []string
}

// Ensure our implementations satisfy the interfaces
var (
	_ MarketDataService = (*Service)(nil)
	_ ExchangeAdapter   = (*Adapter)(nil)
)
