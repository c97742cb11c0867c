package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/irfndi/candlefeed-go/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	// Begin starts a transaction.
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UpsertResult reports what one batch upsert did to the store.
type UpsertResult struct {
	// Inserted is the number of new candle rows created.
	Inserted int `json:"inserted"`
	// Updated is the number of existing rows overwritten (open-period refresh).
	Updated int `json:"updated"`
	// Skipped is the number of rows left untouched (closed-period candles are
	// immutable once written, and identical re-runs change nothing).
	Skipped int `json:"skipped"`
}

// CandleFilter narrows candle reads for the query API.
type CandleFilter struct {
	ExchangeID     *int
	CurrencyPairID *int
	TimePeriodID   *int
	Limit          int
	Offset         int
}

// CandleRepository handles database operations for the candle store.
type CandleRepository struct {
	pool DatabasePool
}

// NewCandleRepository creates a new candle repository.
func NewCandleRepository(pool DatabasePool) *CandleRepository {
	return &CandleRepository{
		pool: pool,
	}
}

// upsertCandleQuery inserts one candle, overwriting a conflicting row only
// when the incoming fetch is newer AND the stored row was fetched before its
// period closed. A stored closed-period candle is immutable: once a row's
// fetched_at is at or past open_time + period, no later fetch replaces it.
// Running the same batch twice therefore changes nothing (fetched_at equal
// fails the strictly-newer check).
const upsertCandleQuery = `
	INSERT INTO candles (
		exchange_id, currency_pair_id, time_period_id, open_time,
		open_price, high_price, low_price, close_price, volume, fetched_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (exchange_id, currency_pair_id, time_period_id, open_time)
	DO UPDATE SET
		open_price = EXCLUDED.open_price,
		high_price = EXCLUDED.high_price,
		low_price = EXCLUDED.low_price,
		close_price = EXCLUDED.close_price,
		volume = EXCLUDED.volume,
		fetched_at = EXCLUDED.fetched_at
	WHERE EXCLUDED.fetched_at > candles.fetched_at
	  AND candles.fetched_at < candles.open_time + make_interval(secs => $11)
	RETURNING (xmax = 0) AS inserted
`

// UpsertCandles persists one normalized batch for a single (exchange, pair,
// period) series in one transaction. A failure rolls back the whole batch
// for that series and surfaces as a PersistenceError; sibling series are
// unaffected.
func (r *CandleRepository) UpsertCandles(ctx context.Context, period models.TimePeriod, batch []models.Candle) (UpsertResult, error) {
	var result UpsertResult
	if len(batch) == 0 {
		return result, nil
	}

	series := batch[0].Series()
	for _, c := range batch {
		if c.Series() != series {
			return result, fmt.Errorf("upsert batch spans multiple series: %+v and %+v", series, c.Series())
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return result, utils.NewPersistenceError("failed to begin candle upsert transaction", err)
	}
	periodSeconds := period.Duration().Seconds()
	for _, c := range batch {
		var inserted bool
		err := tx.QueryRow(ctx, upsertCandleQuery,
			c.ExchangeID, c.CurrencyPairID, c.TimePeriodID, c.OpenTime,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.FetchedAt,
			periodSeconds,
		).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict row passed over by the update predicate
			result.Skipped++
			continue
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return UpsertResult{}, utils.NewPersistenceError(
				fmt.Sprintf("failed to upsert candle at %s", c.OpenTime.Format(time.RFC3339)), err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, utils.NewPersistenceError("failed to commit candle upsert transaction", err)
	}

	return result, nil
}

// LatestOpenTime returns the newest stored open_time for one series, or nil
// when the series has no stored candles yet.
func (r *CandleRepository) LatestOpenTime(ctx context.Context, exchangeID, currencyPairID, timePeriodID int) (*time.Time, error) {
	query := `
		SELECT MAX(open_time)
		FROM candles
		WHERE exchange_id = $1 AND currency_pair_id = $2 AND time_period_id = $3
	`

	var latest *time.Time
	err := r.pool.QueryRow(ctx, query, exchangeID, currencyPairID, timePeriodID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest open time: %w", err)
	}
	return latest, nil
}

// ListActiveExchanges returns the exchanges the collector should pull from.
func (r *CandleRepository) ListActiveExchanges(ctx context.Context) ([]models.Exchange, error) {
	query := `
		SELECT id, name, code, environment, rate_limit, is_active,
		       COALESCE(api_key, ''), COALESCE(api_secret, ''), COALESCE(api_passphrase, ''),
		       created_at, updated_at
		FROM exchanges
		WHERE is_active = true
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []models.Exchange
	for rows.Next() {
		var ex models.Exchange
		if err := rows.Scan(
			&ex.ID, &ex.Name, &ex.Code, &ex.Environment, &ex.RateLimit, &ex.IsActive,
			&ex.APIKey, &ex.APISecret, &ex.APIPassphrase,
			&ex.CreatedAt, &ex.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

// ListActivePairs returns the active currency pairs configured for one
// exchange, with base/quote symbol codes resolved.
func (r *CandleRepository) ListActivePairs(ctx context.Context, exchangeID int) ([]models.CurrencyPair, error) {
	query := `
		SELECT cp.id, cp.exchange_id, cp.base_symbol_id, cp.quote_symbol_id,
		       cp.type, cp.is_active, cp.created_at, cp.updated_at,
		       bs.symbol AS base_symbol, qs.symbol AS quote_symbol
		FROM currency_pairs cp
		JOIN symbols bs ON bs.id = cp.base_symbol_id
		JOIN symbols qs ON qs.id = cp.quote_symbol_id
		WHERE cp.exchange_id = $1 AND cp.is_active = true
		ORDER BY cp.id
	`

	rows, err := r.pool.Query(ctx, query, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.CurrencyPair
	for rows.Next() {
		var cp models.CurrencyPair
		if err := rows.Scan(
			&cp.ID, &cp.ExchangeID, &cp.BaseSymbolID, &cp.QuoteSymbolID,
			&cp.Type, &cp.IsActive, &cp.CreatedAt, &cp.UpdatedAt,
			&cp.BaseSymbol, &cp.QuoteSymbol,
		); err != nil {
			return nil, fmt.Errorf("failed to scan currency pair: %w", err)
		}
		pairs = append(pairs, cp)
	}
	return pairs, rows.Err()
}

// ListActivePeriods returns the active timeframes, shortest first.
func (r *CandleRepository) ListActivePeriods(ctx context.Context) ([]models.TimePeriod, error) {
	query := `
		SELECT id, name, minutes, is_active, created_at, updated_at
		FROM time_periods
		WHERE is_active = true
		ORDER BY minutes
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active time periods: %w", err)
	}
	defer rows.Close()

	var periods []models.TimePeriod
	for rows.Next() {
		var tp models.TimePeriod
		if err := rows.Scan(
			&tp.ID, &tp.Name, &tp.Minutes, &tp.IsActive, &tp.CreatedAt, &tp.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan time period: %w", err)
		}
		periods = append(periods, tp)
	}
	return periods, rows.Err()
}

// GetCandles reads stored candles for the query API, newest first.
func (r *CandleRepository) GetCandles(ctx context.Context, filter CandleFilter) ([]models.Candle, error) {
	query := `
		SELECT id, exchange_id, currency_pair_id, time_period_id, open_time,
		       open_price, high_price, low_price, close_price, volume, fetched_at
		FROM candles
		WHERE 1=1
	`
	args := []interface{}{}
	argPos := 1

	if filter.ExchangeID != nil {
		query += fmt.Sprintf(" AND exchange_id = $%d", argPos)
		args = append(args, *filter.ExchangeID)
		argPos++
	}
	if filter.CurrencyPairID != nil {
		query += fmt.Sprintf(" AND currency_pair_id = $%d", argPos)
		args = append(args, *filter.CurrencyPairID)
		argPos++
	}
	if filter.TimePeriodID != nil {
		query += fmt.Sprintf(" AND time_period_id = $%d", argPos)
		args = append(args, *filter.TimePeriodID)
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY open_time DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(
			&c.ID, &c.ExchangeID, &c.CurrencyPairID, &c.TimePeriodID, &c.OpenTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// GetCollectionStats summarizes the stored dataset for status queries.
func (r *CandleRepository) GetCollectionStats(ctx context.Context) (*models.CollectionStats, error) {
	stats := &models.CollectionStats{
		LatestUpdatePerExchange: make(map[string]time.Time),
	}

	countsQuery := `
		SELECT
			(SELECT COUNT(*) FROM candles),
			(SELECT COUNT(*) FROM exchanges WHERE is_active = true),
			(SELECT COUNT(*) FROM currency_pairs WHERE is_active = true),
			(SELECT COUNT(*) FROM time_periods WHERE is_active = true)
	`
	err := r.pool.QueryRow(ctx, countsQuery).Scan(
		&stats.TotalCandles, &stats.TotalExchanges, &stats.TotalPairs, &stats.TotalPeriods,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection counts: %w", err)
	}

	latestQuery := `
		SELECT e.name, MAX(c.fetched_at)
		FROM candles c
		JOIN exchanges e ON e.id = c.exchange_id
		GROUP BY e.name
	`
	rows, err := r.pool.Query(ctx, latestQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest updates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var latest time.Time
		if err := rows.Scan(&name, &latest); err != nil {
			return nil, fmt.Errorf("failed to scan latest update: %w", err)
		}
		stats.LatestUpdatePerExchange[name] = latest
	}
	return stats, rows.Err()
}
