package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLCV bar for a (exchange, pair, period) series.
// A candle is unique per (exchange_id, currency_pair_id, time_period_id,
// open_time) and its open time is always aligned to the period grid.
type Candle struct {
	ID             int64           `json:"id" db:"id"`
	ExchangeID     int             `json:"exchange_id" db:"exchange_id"`
	CurrencyPairID int             `json:"currency_pair_id" db:"currency_pair_id"`
	TimePeriodID   int             `json:"time_period_id" db:"time_period_id"`
	OpenTime       time.Time       `json:"open_time" db:"open_time"`
	Open           decimal.Decimal `json:"open" db:"open_price"`
	High           decimal.Decimal `json:"high" db:"high_price"`
	Low            decimal.Decimal `json:"low" db:"low_price"`
	Close          decimal.Decimal `json:"close" db:"close_price"`
	Volume         decimal.Decimal `json:"volume" db:"volume"`
	FetchedAt      time.Time       `json:"fetched_at" db:"fetched_at"`
}

// SeriesKey identifies one (exchange, pair, period) candle series
type SeriesKey struct {
	ExchangeID     int
	CurrencyPairID int
	TimePeriodID   int
}

// Series returns the series key of the candle
func (c *Candle) Series() SeriesKey {
	return SeriesKey{
		ExchangeID:     c.ExchangeID,
		CurrencyPairID: c.CurrencyPairID,
		TimePeriodID:   c.TimePeriodID,
	}
}

// IsClosed reports whether the candle's period had fully elapsed at ref,
// i.e. the bar can no longer change on the exchange side
func (c *Candle) IsClosed(period time.Duration, ref time.Time) bool {
	return !ref.Before(c.OpenTime.Add(period))
}

// CollectionStats summarizes the stored dataset for status queries
type CollectionStats struct {
	TotalCandles            int64                `json:"total_candles"`
	TotalExchanges          int                  `json:"total_exchanges"`
	TotalPairs              int                  `json:"total_pairs"`
	TotalPeriods            int                  `json:"total_periods"`
	LatestUpdatePerExchange map[string]time.Time `json:"latest_update_per_exchange"`
}
