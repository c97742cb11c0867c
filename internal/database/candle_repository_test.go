package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/irfndi/candlefeed-go/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPoolAdapter wraps pgxmock.PgxPoolIface to implement DatabasePool interface
type MockPoolAdapter struct {
	mock pgxmock.PgxPoolIface
}

func NewMockPoolAdapter(mock pgxmock.PgxPoolIface) DatabasePool {
	return &MockPoolAdapter{mock: mock}
}

func (m *MockPoolAdapter) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return m.mock.QueryRow(ctx, sql, args...)
}

func (m *MockPoolAdapter) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	result, err := m.mock.Exec(ctx, sql, args...)
	if err == nil {
		rows := result.RowsAffected()
		return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", rows)), nil
	}
	return pgconn.CommandTag{}, err
}

func (m *MockPoolAdapter) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return m.mock.Query(ctx, sql, args...)
}

func (m *MockPoolAdapter) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.mock.Begin(ctx)
}

// anyUpsertArgs matches the 11 placeholders of upsertCandleQuery without
// asserting their values; pgxmock requires the argument count to match.
func anyUpsertArgs() []interface{} {
	args := make([]interface{}, 11)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func testCandle(openTime time.Time) models.Candle {
	return models.Candle{
		ExchangeID:     1,
		CurrencyPairID: 2,
		TimePeriodID:   3,
		OpenTime:       openTime,
		Open:           decimal.NewFromFloat(50000.5),
		High:           decimal.NewFromFloat(50100.0),
		Low:            decimal.NewFromFloat(49900.25),
		Close:          decimal.NewFromFloat(50050.75),
		Volume:         decimal.NewFromFloat(12.345),
		FetchedAt:      openTime.Add(time.Hour),
	}
}

func TestUpsertCandles_EmptyBatch(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))

	result, err := repo.UpsertCandles(context.Background(), models.TimePeriod{Minutes: 60}, nil)
	assert.NoError(t, err)
	assert.Equal(t, UpsertResult{}, result)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertCandles_InsertUpdateSkip(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))
	period := models.TimePeriod{ID: 3, Name: "1h", Minutes: 60}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	batch := []models.Candle{
		testCandle(base),
		testCandle(base.Add(time.Hour)),
		testCandle(base.Add(2 * time.Hour)),
	}

	mockPool.ExpectBegin()
	// New row
	mockPool.ExpectQuery(`INSERT INTO candles`).WithArgs(anyUpsertArgs()...).WillReturnRows(
		pgxmock.NewRows([]string{"inserted"}).AddRow(true),
	)
	// Existing open-period row refreshed
	mockPool.ExpectQuery(`INSERT INTO candles`).WithArgs(anyUpsertArgs()...).WillReturnRows(
		pgxmock.NewRows([]string{"inserted"}).AddRow(false),
	)
	// Closed-period row left untouched by the update predicate
	mockPool.ExpectQuery(`INSERT INTO candles`).WithArgs(anyUpsertArgs()...).WillReturnError(pgx.ErrNoRows)
	mockPool.ExpectCommit()

	result, err := repo.UpsertCandles(context.Background(), period, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Skipped)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertCandles_MixedSeriesRejected(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	first := testCandle(base)
	second := testCandle(base.Add(time.Hour))
	second.ExchangeID = 99

	_, err = repo.UpsertCandles(context.Background(), models.TimePeriod{Minutes: 60}, []models.Candle{first, second})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "multiple series")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertCandles_RollbackOnFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))
	period := models.TimePeriod{ID: 3, Name: "1h", Minutes: 60}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	batch := []models.Candle{testCandle(base), testCandle(base.Add(time.Hour))}

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`INSERT INTO candles`).WithArgs(anyUpsertArgs()...).WillReturnRows(
		pgxmock.NewRows([]string{"inserted"}).AddRow(true),
	)
	mockPool.ExpectQuery(`INSERT INTO candles`).WithArgs(anyUpsertArgs()...).WillReturnError(errors.New("connection reset"))
	mockPool.ExpectRollback()

	result, err := repo.UpsertCandles(context.Background(), period, batch)
	require.Error(t, err)

	var perr *utils.PersistenceError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, UpsertResult{}, result)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestLatestOpenTime(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))
	expected := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(`SELECT MAX\(open_time\)`).
		WithArgs(1, 2, 3).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&expected))

	latest, err := repo.LatestOpenTime(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, expected.Equal(*latest))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestLatestOpenTime_EmptySeries(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))

	mockPool.ExpectQuery(`SELECT MAX\(open_time\)`).
		WithArgs(1, 2, 3).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow((*time.Time)(nil)))

	latest, err := repo.LatestOpenTime(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestListActiveExchanges(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))
	now := time.Now()

	mockPool.ExpectQuery(`FROM exchanges`).WillReturnRows(
		pgxmock.NewRows([]string{
			"id", "name", "code", "environment", "rate_limit", "is_active",
			"api_key", "api_secret", "api_passphrase", "created_at", "updated_at",
		}).
			AddRow(1, "Binance", "binance", "production", 10.0, true, "", "", "", now, now).
			AddRow(2, "Bybit", "bybit", "production", 5.0, true, "", "", "", now, now),
	)

	exchanges, err := repo.ListActiveExchanges(context.Background())
	require.NoError(t, err)
	require.Len(t, exchanges, 2)
	assert.Equal(t, "binance", exchanges[0].Code)
	assert.Equal(t, 10.0, exchanges[0].RateLimit)
	assert.Equal(t, "Bybit", exchanges[1].Name)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestListActivePairs(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))
	now := time.Now()

	mockPool.ExpectQuery(`FROM currency_pairs cp`).WithArgs(1).WillReturnRows(
		pgxmock.NewRows([]string{
			"id", "exchange_id", "base_symbol_id", "quote_symbol_id",
			"type", "is_active", "created_at", "updated_at",
			"base_symbol", "quote_symbol",
		}).
			AddRow(10, 1, 100, 101, "spot", true, now, now, "BTC", "USDT"),
	)

	pairs, err := repo.ListActivePairs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "BTC/USDT", pairs[0].Symbol())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestListActivePeriods(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))
	now := time.Now()

	mockPool.ExpectQuery(`FROM time_periods`).WillReturnRows(
		pgxmock.NewRows([]string{"id", "name", "minutes", "is_active", "created_at", "updated_at"}).
			AddRow(1, "1m", 1, true, now, now).
			AddRow(2, "1h", 60, true, now, now),
	)

	periods, err := repo.ListActivePeriods(context.Background())
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, time.Minute, periods[0].Duration())
	assert.Equal(t, "1h", periods[1].TimeframeCode())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetCandles_Filtered(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))
	openTime := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c := testCandle(openTime)

	exchangeID := 1
	periodID := 3
	mockPool.ExpectQuery(`FROM candles`).
		WithArgs(exchangeID, periodID, 50, 0).
		WillReturnRows(
			pgxmock.NewRows([]string{
				"id", "exchange_id", "currency_pair_id", "time_period_id", "open_time",
				"open_price", "high_price", "low_price", "close_price", "volume", "fetched_at",
			}).
				AddRow(int64(7), c.ExchangeID, c.CurrencyPairID, c.TimePeriodID, c.OpenTime,
					c.Open, c.High, c.Low, c.Close, c.Volume, c.FetchedAt),
		)

	candles, err := repo.GetCandles(context.Background(), CandleFilter{
		ExchangeID:   &exchangeID,
		TimePeriodID: &periodID,
		Limit:        50,
	})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(7), candles[0].ID)
	assert.True(t, c.Open.Equal(candles[0].Open))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetCollectionStats(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := NewCandleRepository(NewMockPoolAdapter(mockPool))
	latest := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(`SELECT`).WillReturnRows(
		pgxmock.NewRows([]string{"candles", "exchanges", "pairs", "periods"}).
			AddRow(int64(123456), 3, 12, 5),
	)
	mockPool.ExpectQuery(`GROUP BY e\.name`).WillReturnRows(
		pgxmock.NewRows([]string{"name", "max"}).
			AddRow("Binance", latest),
	)

	stats, err := repo.GetCollectionStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123456), stats.TotalCandles)
	assert.Equal(t, 3, stats.TotalExchanges)
	assert.Equal(t, 12, stats.TotalPairs)
	assert.Equal(t, 5, stats.TotalPeriods)
	assert.True(t, latest.Equal(stats.LatestUpdatePerExchange["Binance"]))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
