package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/candlefeed-go/internal/cache"
	"github.com/irfndi/candlefeed-go/internal/database"
	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/irfndi/candlefeed-go/pkg/marketdata"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeStore is an in-memory CandleStore recording every upserted batch.
type fakeStore struct {
	mu        sync.Mutex
	batches   [][]models.Candle
	latest    map[models.SeriesKey]*time.Time
	exchanges []models.Exchange
	pairs     map[int][]models.CurrencyPair
	pairErrs  map[int]error
	periods   []models.TimePeriod
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		latest: make(map[models.SeriesKey]*time.Time),
		pairs:  make(map[int][]models.CurrencyPair),
	}
}

func (f *fakeStore) UpsertCandles(_ context.Context, _ models.TimePeriod, batch []models.Candle) (database.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return database.UpsertResult{}, f.upsertErr
	}
	f.batches = append(f.batches, batch)
	return database.UpsertResult{Inserted: len(batch)}, nil
}

func (f *fakeStore) LatestOpenTime(_ context.Context, exchangeID, currencyPairID, timePeriodID int) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[models.SeriesKey{ExchangeID: exchangeID, CurrencyPairID: currencyPairID, TimePeriodID: timePeriodID}], nil
}

func (f *fakeStore) ListActiveExchanges(context.Context) ([]models.Exchange, error) {
	return f.exchanges, nil
}

func (f *fakeStore) ListActivePairs(_ context.Context, exchangeID int) ([]models.CurrencyPair, error) {
	if err := f.pairErrs[exchangeID]; err != nil {
		return nil, err
	}
	return f.pairs[exchangeID], nil
}

func (f *fakeStore) ListActivePeriods(context.Context) ([]models.TimePeriod, error) {
	return f.periods, nil
}

func (f *fakeStore) totalUpserted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, b := range f.batches {
		total += len(b)
	}
	return total
}

// fakeAdapter delegates fetches to a test-provided function.
type fakeAdapter struct {
	id    string
	fetch func(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]marketdata.OHLCV, error)
}

func (f *fakeAdapter) ExchangeID() string     { return f.id }
func (f *fakeAdapter) RateBudget() rate.Limit { return rate.Limit(10) }
func (f *fakeAdapter) FetchCandles(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]marketdata.OHLCV, error) {
	return f.fetch(ctx, symbol, timeframe, since, limit)
}

// fakeMarket hands out adapters by exchange code.
type fakeMarket struct {
	adapters map[string]marketdata.ExchangeAdapter
}

func (f *fakeMarket) Initialize(context.Context) error { return nil }
func (f *fakeMarket) IsHealthy(context.Context) bool   { return true }
func (f *fakeMarket) Close() error                     { return nil }
func (f *fakeMarket) SupportedExchanges() []string     { return nil }
func (f *fakeMarket) AdapterFor(exchange models.Exchange) marketdata.ExchangeAdapter {
	return f.adapters[exchange.Code]
}

func newTestCursorCache(t *testing.T) cache.CursorCache {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewRedisCursorCache(client)
}

// hourlyBars generates aligned 1h bars covering [since, dataEnd), capped at limit.
func hourlyBars(since, dataEnd time.Time, limit int) []marketdata.OHLCV {
	var bars []marketdata.OHLCV
	for ts := since; ts.Before(dataEnd) && len(bars) < limit; ts = ts.Add(time.Hour) {
		bars = append(bars, validBar(ts))
	}
	return bars
}
