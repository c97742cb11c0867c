package models

import (
	"time"
)

// Exchange represents a cryptocurrency exchange the collector pulls from
type Exchange struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Code        string    `json:"code" db:"code"`
	Environment string    `json:"environment" db:"environment"`
	RateLimit   float64   `json:"rate_limit" db:"rate_limit"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`

	// Credential reference, opaque to the collection core. Passed through to
	// the market-data sidecar which performs the actual authentication.
	APIKey        string `json:"-" db:"api_key"`
	APISecret     string `json:"-" db:"api_secret"`
	APIPassphrase string `json:"-" db:"api_passphrase"`
}
