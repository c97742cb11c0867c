package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Adapter wraps the sidecar client for one venue. It self-throttles with a
// token bucket sized from the exchange's configured request budget, so
// concurrent workers can never overrun the venue's documented limits.
type Adapter struct {
	exchangeID string
	client     *Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	logger     *logrus.Logger
}

// NewAdapter creates an adapter for one exchange. budget is the venue's
// request budget in requests per second; zero or negative falls back to a
// conservative 1 rps.
func NewAdapter(exchangeID string, client *Client, budget float64, retry RetryPolicy, logger *logrus.Logger) *Adapter {
	if budget <= 0 {
		budget = 1
	}
	burst := int(budget)
	if burst < 1 {
		burst = 1
	}

	return &Adapter{
		exchangeID: exchangeID,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(budget), burst),
		retry:      retry,
		logger:     logger,
	}
}

// ExchangeID returns the venue code
func (a *Adapter) ExchangeID() string {
	return a.exchangeID
}

// RateBudget returns the venue's request budget in requests per second
func (a *Adapter) RateBudget() rate.Limit {
	return a.limiter.Limit()
}

// FetchCandles retrieves OHLCV bars for a symbol, waiting on the venue's
// token bucket before every attempt and retrying retryable failures.
func (a *Adapter) FetchCandles(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]OHLCV, error) {
	var bars []OHLCV

	op := fmt.Sprintf("fetch_ohlcv %s %s %s", a.exchangeID, symbol, timeframe)
	err := withRetry(ctx, a.logger, op, a.retry, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := a.client.GetOHLCV(ctx, a.exchangeID, symbol, timeframe, since, limit)
		if err != nil {
			return err
		}
		bars = resp.OHLCV
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// Exhausted retries on a retryable failure escalate to a fatal
		// unit failure for this run.
		return nil, &AdapterError{
			Exchange: a.exchangeID,
			Symbol:   symbol,
			Kind:     ErrFatal,
			Err:      err,
		}
	}

	return bars, nil
}
