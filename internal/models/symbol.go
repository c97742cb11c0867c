package models

import (
	"time"
)

// Symbol represents a tradable asset code (e.g. BTC, USDT)
type Symbol struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Symbol      string    `json:"symbol" db:"symbol"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CurrencyPair represents a tradable market on a specific exchange
type CurrencyPair struct {
	ID            int       `json:"id" db:"id"`
	ExchangeID    int       `json:"exchange_id" db:"exchange_id"`
	BaseSymbolID  int       `json:"base_symbol_id" db:"base_symbol_id"`
	QuoteSymbolID int       `json:"quote_symbol_id" db:"quote_symbol_id"`
	Type          string    `json:"type" db:"type"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`

	// Denormalized symbol codes, populated by repository joins
	BaseSymbol  string `json:"base_symbol" db:"base_symbol"`
	QuoteSymbol string `json:"quote_symbol" db:"quote_symbol"`
}

// Symbol returns the market symbol in the BASE/QUOTE form used by exchanges
func (cp *CurrencyPair) Symbol() string {
	return cp.BaseSymbol + "/" + cp.QuoteSymbol
}

// String returns a string representation of the currency pair
func (cp *CurrencyPair) String() string {
	return cp.Symbol()
}
