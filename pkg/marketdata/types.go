package marketdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCV represents one raw candlestick bar as reported by an exchange
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OHLCVResponse represents the response from /api/ohlcv/{exchange}/{symbol}
type OHLCVResponse struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OHLCV     []OHLCV   `json:"ohlcv"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// ExchangeStatus represents one exchange entry from /api/exchanges
type ExchangeStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ExchangesResponse represents the response from /api/exchanges
type ExchangesResponse struct {
	Exchanges []ExchangeStatus `json:"exchanges"`
	Count     int              `json:"count"`
	Timestamp time.Time        `json:"timestamp"`
}

// HealthResponse represents the sidecar health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse represents an error payload from the sidecar
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
