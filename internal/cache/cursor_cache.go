package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/redis/go-redis/v9"
)

// BackfillCursor records how far the historical walk has progressed for one
// (exchange, pair, period) series. NextOpenTime is the open time the next
// backfill page should start from.
type BackfillCursor struct {
	ExchangeID     int       `json:"exchange_id"`
	CurrencyPairID int       `json:"currency_pair_id"`
	TimePeriodID   int       `json:"time_period_id"`
	NextOpenTime   time.Time `json:"next_open_time"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CursorCache interface defines the contract for backfill cursor storage.
type CursorCache interface {
	// Get returns the stored cursor for a series, or nil when none exists.
	Get(ctx context.Context, series models.SeriesKey) (*BackfillCursor, error)
	// Put stores or replaces the cursor for the cursor's series.
	Put(ctx context.Context, cursor BackfillCursor) error
	// Delete removes the cursor for a series.
	Delete(ctx context.Context, series models.SeriesKey) error
}

// RedisCursorCache implements CursorCache on Redis. Cursors are advisory:
// losing one only means the next backfill run re-derives its position from
// the database high-water mark and re-upserts a page it already wrote, which
// the store absorbs idempotently. Entries carry no TTL.
type RedisCursorCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCursorCache creates a new Redis-based cursor cache.
func NewRedisCursorCache(client redis.Cmdable) *RedisCursorCache {
	return &RedisCursorCache{
		client: client,
		prefix: "backfill_cursor:",
	}
}

func (rcc *RedisCursorCache) key(series models.SeriesKey) string {
	return fmt.Sprintf("%s%d:%d:%d", rcc.prefix, series.ExchangeID, series.CurrencyPairID, series.TimePeriodID)
}

// Get returns the stored cursor for a series. A missing key and a malformed
// entry both return (nil, nil): either way the walker falls back to the
// database high-water mark.
func (rcc *RedisCursorCache) Get(ctx context.Context, series models.SeriesKey) (*BackfillCursor, error) {
	val, err := rcc.client.Get(ctx, rcc.key(series)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backfill cursor: %w", err)
	}

	var cursor BackfillCursor
	if err := json.Unmarshal([]byte(val), &cursor); err != nil {
		return nil, nil
	}
	return &cursor, nil
}

// Put stores or replaces the cursor for the cursor's series.
func (rcc *RedisCursorCache) Put(ctx context.Context, cursor BackfillCursor) error {
	cursor.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("failed to marshal backfill cursor: %w", err)
	}

	series := models.SeriesKey{
		ExchangeID:     cursor.ExchangeID,
		CurrencyPairID: cursor.CurrencyPairID,
		TimePeriodID:   cursor.TimePeriodID,
	}
	if err := rcc.client.Set(ctx, rcc.key(series), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store backfill cursor: %w", err)
	}
	return nil
}

// Delete removes the cursor for a series.
func (rcc *RedisCursorCache) Delete(ctx context.Context, series models.SeriesKey) error {
	if err := rcc.client.Del(ctx, rcc.key(series)).Err(); err != nil {
		return fmt.Errorf("failed to delete backfill cursor: %w", err)
	}
	return nil
}
