package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irfndi/candlefeed-go/internal/config"
	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/irfndi/candlefeed-go/pkg/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCollectionConfig() config.CollectionConfig {
	return config.CollectionConfig{
		CurrentInterval:        "15s",
		HistoricalTime:         "00:30",
		BackfillStart:          "2020-01-01T00:00:00Z",
		BackfillPageSize:       1000,
		CurrentFetchLimit:      2,
		MaxConcurrentUnits:     4,
		PerExchangeConcurrency: 1,
		RunTimeBudget:          "1m",
	}
}

func collectorFixtures() *fakeStore {
	store := newFakeStore()
	store.exchanges = []models.Exchange{
		{ID: 1, Name: "Binance", Code: "binance", RateLimit: 10, IsActive: true},
		{ID: 2, Name: "Bybit", Code: "bybit", RateLimit: 5, IsActive: true},
	}
	store.pairs[1] = []models.CurrencyPair{{ID: 10, ExchangeID: 1, BaseSymbol: "BTC", QuoteSymbol: "USDT", IsActive: true}}
	store.pairs[2] = []models.CurrencyPair{{ID: 20, ExchangeID: 2, BaseSymbol: "ETH", QuoteSymbol: "USDT", IsActive: true}}
	store.periods = []models.TimePeriod{
		{ID: 3, Name: "1h", Minutes: 60, IsActive: true},
		{ID: 4, Name: "4h", Minutes: 240, IsActive: true},
	}
	return store
}

func currentBarsAdapter(id string) *fakeAdapter {
	return &fakeAdapter{
		id: id,
		fetch: func(_ context.Context, _, timeframe string, since *time.Time, limit int) ([]marketdata.OHLCV, error) {
			if since != nil {
				return nil, errors.New("current collection must fetch the most recent bars")
			}
			period := time.Hour
			if timeframe == "4h" {
				period = 4 * time.Hour
			}
			boundary := time.Now().UTC().Truncate(period)
			return []marketdata.OHLCV{
				validBarFor(boundary.Add(-period), period),
				validBarFor(boundary, period),
			}, nil
		},
	}
}

// validBarFor aligns a bar to an arbitrary grid for multi-period tests.
func validBarFor(ts time.Time, period time.Duration) marketdata.OHLCV {
	bar := validBar(ts.Truncate(period))
	return bar
}

func TestRunCurrentCollection_AllUnitsSucceed(t *testing.T) {
	store := collectorFixtures()
	market := &fakeMarket{adapters: map[string]marketdata.ExchangeAdapter{
		"binance": currentBarsAdapter("binance"),
		"bybit":   currentBarsAdapter("bybit"),
	}}

	collector := NewCollectorService(store, market, newTestCursorCache(t), testCollectionConfig(), testLogger())

	result, err := collector.RunCurrentCollection(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, RunCurrent, result.Kind)
	assert.Equal(t, 4, result.Units) // 2 exchanges x 1 pair x 2 periods
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 8, result.Fetched)
	assert.Equal(t, 8, result.Upserts.Inserted)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestRunCurrentCollection_FailureIsolation(t *testing.T) {
	store := collectorFixtures()
	market := &fakeMarket{adapters: map[string]marketdata.ExchangeAdapter{
		"binance": currentBarsAdapter("binance"),
		"bybit": &fakeAdapter{
			id: "bybit",
			fetch: func(_ context.Context, _, _ string, _ *time.Time, _ int) ([]marketdata.OHLCV, error) {
				return nil, errors.New("venue unreachable")
			},
		},
	}}

	collector := NewCollectorService(store, market, newTestCursorCache(t), testCollectionConfig(), testLogger())

	result, err := collector.RunCurrentCollection(context.Background())
	require.NoError(t, err) // unit failures never fail the run
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 2)
	for _, unitErr := range result.Errors {
		assert.Equal(t, "bybit", unitErr.Exchange)
		assert.Contains(t, unitErr.Error, "venue unreachable")
	}
	// The healthy exchange still landed its candles
	assert.Equal(t, 4, result.Upserts.Inserted)
}

func TestRunCurrentCollection_SkipsExchangeWithoutPairs(t *testing.T) {
	store := collectorFixtures()
	store.pairErrs = map[int]error{2: errors.New("pair listing unavailable")}
	market := &fakeMarket{adapters: map[string]marketdata.ExchangeAdapter{
		"binance": currentBarsAdapter("binance"),
	}}

	collector := NewCollectorService(store, market, newTestCursorCache(t), testCollectionConfig(), testLogger())

	result, err := collector.RunCurrentCollection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Units) // only binance's units
	assert.Equal(t, 2, result.Succeeded)
}

func TestRunCurrentCollection_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	store := collectorFixtures()
	store.exchanges = store.exchanges[:1] // binance only
	market := &fakeMarket{adapters: map[string]marketdata.ExchangeAdapter{
		"binance": &fakeAdapter{
			id: "binance",
			fetch: func(_ context.Context, _, _ string, _ *time.Time, _ int) ([]marketdata.OHLCV, error) {
				return nil, errors.New("venue unreachable")
			},
		},
	}}

	cfg := testCollectionConfig()
	cfg.PerExchangeConcurrency = 1
	cfg.MaxConcurrentUnits = 1
	collector := NewCollectorService(store, market, newTestCursorCache(t), cfg, testLogger())

	// Default failure threshold is 5 consecutive failures; 2 units per run
	for i := 0; i < 3; i++ {
		_, err := collector.RunCurrentCollection(context.Background())
		require.NoError(t, err)
	}

	states := collector.BreakerStates()
	assert.Equal(t, "open", states["binance"])

	// With the breaker open every unit is rejected without touching the venue
	result, err := collector.RunCurrentCollection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)
	for _, unitErr := range result.Errors {
		assert.Contains(t, unitErr.Error, "circuit breaker is open")
	}
}

func TestRunCurrentCollection_BudgetExpirySkipsQueuedUnits(t *testing.T) {
	store := collectorFixtures()
	store.exchanges = store.exchanges[:1] // binance only
	store.periods = []models.TimePeriod{
		{ID: 2, Name: "30m", Minutes: 30, IsActive: true},
		{ID: 3, Name: "1h", Minutes: 60, IsActive: true},
		{ID: 4, Name: "4h", Minutes: 240, IsActive: true},
		{ID: 5, Name: "1d", Minutes: 1440, IsActive: true},
	}
	durations := map[string]time.Duration{
		"30m": 30 * time.Minute,
		"1h":  time.Hour,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
	}

	market := &fakeMarket{adapters: map[string]marketdata.ExchangeAdapter{
		"binance": &fakeAdapter{
			id: "binance",
			fetch: func(_ context.Context, _, timeframe string, _ *time.Time, _ int) ([]marketdata.OHLCV, error) {
				time.Sleep(60 * time.Millisecond)
				period := durations[timeframe]
				boundary := time.Now().UTC().Truncate(period)
				return []marketdata.OHLCV{
					validBarFor(boundary.Add(-period), period),
					validBarFor(boundary, period),
				}, nil
			},
		},
	}}

	cfg := testCollectionConfig()
	cfg.MaxConcurrentUnits = 1
	cfg.PerExchangeConcurrency = 1
	cfg.RunTimeBudget = "100ms"
	collector := NewCollectorService(store, market, newTestCursorCache(t), cfg, testLogger())

	result, err := collector.RunCurrentCollection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Units)

	// Expiry gates the start of new units; it never turns queued work into
	// failures and in-flight fetches run to completion.
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Errors)
	assert.GreaterOrEqual(t, result.Succeeded, 1)
	assert.GreaterOrEqual(t, result.Skipped, 2)
	assert.Equal(t, result.Units, result.Succeeded+result.Skipped)

	// A healthy venue's breaker stays closed through budget expiry
	assert.Equal(t, "closed", collector.BreakerStates()["binance"])
}

func TestRunHistoricalCollection_WalksEveryUnit(t *testing.T) {
	store := collectorFixtures()
	store.exchanges = store.exchanges[:1]
	store.periods = store.periods[:1] // 1h only

	dataEnd := time.Now().UTC().Truncate(time.Hour)
	dataStart := dataEnd.Add(-5 * time.Hour)
	market := &fakeMarket{adapters: map[string]marketdata.ExchangeAdapter{
		"binance": &fakeAdapter{
			id: "binance",
			fetch: func(_ context.Context, _, _ string, since *time.Time, limit int) ([]marketdata.OHLCV, error) {
				start := dataStart
				if since != nil && since.After(start) {
					start = *since
				}
				return hourlyBars(start, dataEnd, limit), nil
			},
		},
	}}

	cfg := testCollectionConfig()
	collector := NewCollectorService(store, market, newTestCursorCache(t), cfg, testLogger())

	result, err := collector.RunHistoricalCollection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunHistorical, result.Kind)
	assert.Equal(t, 1, result.Units)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 5, result.Upserts.Inserted) // 5 closed hourly bars
}
