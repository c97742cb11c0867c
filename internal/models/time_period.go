package models

import (
	"time"
)

// TimePeriod represents an enumerated candle timeframe
type TimePeriod struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Minutes   int       `json:"minutes" db:"minutes"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// timeframeCodes maps period lengths in minutes to exchange timeframe codes
var timeframeCodes = map[int]string{
	1:     "1m",
	3:     "3m",
	5:     "5m",
	15:    "15m",
	30:    "30m",
	60:    "1h",
	120:   "2h",
	240:   "4h",
	360:   "6h",
	480:   "8h",
	720:   "12h",
	1440:  "1d",
	10080: "1w",
	43200: "1M",
}

// Duration returns the fixed duration of one candle for this period
func (tp *TimePeriod) Duration() time.Duration {
	return time.Duration(tp.Minutes) * time.Minute
}

// TimeframeCode returns the exchange timeframe code (e.g. "1h") for this
// period, or "" if the period length is not a supported timeframe
func (tp *TimePeriod) TimeframeCode() string {
	return timeframeCodes[tp.Minutes]
}

// IsAligned reports whether t falls exactly on this period's grid
func (tp *TimePeriod) IsAligned(t time.Time) bool {
	d := tp.Duration()
	if d <= 0 {
		return false
	}
	return t.UnixMilli()%d.Milliseconds() == 0
}

// Truncate rounds t down to the nearest grid boundary of this period
func (tp *TimePeriod) Truncate(t time.Time) time.Time {
	d := tp.Duration()
	if d <= 0 {
		return t
	}
	ms := t.UnixMilli()
	return time.UnixMilli(ms - ms%d.Milliseconds()).UTC()
}
