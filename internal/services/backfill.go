package services

import (
	"context"
	"time"

	"github.com/irfndi/candlefeed-go/internal/cache"
	"github.com/irfndi/candlefeed-go/internal/database"
	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/irfndi/candlefeed-go/pkg/marketdata"
	"github.com/sirupsen/logrus"
)

// CandleStore is the persistence surface the collection services need.
// *database.CandleRepository implements it.
type CandleStore interface {
	UpsertCandles(ctx context.Context, period models.TimePeriod, batch []models.Candle) (database.UpsertResult, error)
	LatestOpenTime(ctx context.Context, exchangeID, currencyPairID, timePeriodID int) (*time.Time, error)
	ListActiveExchanges(ctx context.Context) ([]models.Exchange, error)
	ListActivePairs(ctx context.Context, exchangeID int) ([]models.CurrencyPair, error)
	ListActivePeriods(ctx context.Context) ([]models.TimePeriod, error)
}

// WalkResult reports what one historical walk did for one series.
type WalkResult struct {
	Pages    int                   `json:"pages"`
	Fetched  int                   `json:"fetched"`
	Dropped  int                   `json:"dropped"`
	Upserts  database.UpsertResult `json:"upserts"`
	CaughtUp bool                  `json:"caught_up"`
}

// BackfillWalker pages one series' history forward in fixed-size pages,
// persisting its cursor after every page so an interrupted walk resumes
// where it stopped instead of starting over. The store's idempotent upsert
// makes replaying the last page after a crash harmless.
type BackfillWalker struct {
	store      CandleStore
	cursors    cache.CursorCache
	normalizer *Normalizer
	epoch      time.Time
	pageSize   int
	logger     *logrus.Logger
	now        func() time.Time
}

// NewBackfillWalker creates a walker that starts new series at epoch and
// fetches pageSize bars per request.
func NewBackfillWalker(store CandleStore, cursors cache.CursorCache, normalizer *Normalizer, epoch time.Time, pageSize int, logger *logrus.Logger) *BackfillWalker {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &BackfillWalker{
		store:      store,
		cursors:    cursors,
		normalizer: normalizer,
		epoch:      epoch.UTC(),
		pageSize:   pageSize,
		logger:     logger,
		now:        time.Now,
	}
}

// startTime resolves where the walk begins: the stored cursor if one exists,
// otherwise one period past the database high-water mark, otherwise the epoch.
func (w *BackfillWalker) startTime(ctx context.Context, exchange models.Exchange, pair models.CurrencyPair, period models.TimePeriod) (time.Time, error) {
	series := models.SeriesKey{ExchangeID: exchange.ID, CurrencyPairID: pair.ID, TimePeriodID: period.ID}

	cursor, err := w.cursors.Get(ctx, series)
	if err != nil {
		// A cursor read failure is not fatal: fall through to the high-water mark
		w.logger.WithFields(logrus.Fields{
			"exchange": exchange.Code,
			"symbol":   pair.Symbol(),
			"error":    err.Error(),
		}).Warn("Backfill cursor read failed, falling back to high-water mark")
	}
	if cursor != nil && cursor.NextOpenTime.After(w.epoch) {
		return cursor.NextOpenTime.UTC(), nil
	}

	latest, err := w.store.LatestOpenTime(ctx, exchange.ID, pair.ID, period.ID)
	if err != nil {
		return time.Time{}, err
	}
	if latest != nil {
		return latest.UTC().Add(period.Duration()), nil
	}
	return w.epoch, nil
}

// Walk backfills one series from its resume point up to the newest closed
// bar. A non-zero deadline is a soft stop: the walk finishes its current
// page and returns partial progress without error. The returned result
// covers the pages completed before any error; since the cursor is
// persisted per page, an interrupted walk resumes from the last completed
// page on the next run.
func (w *BackfillWalker) Walk(ctx context.Context, adapter marketdata.ExchangeAdapter, exchange models.Exchange, pair models.CurrencyPair, period models.TimePeriod, deadline time.Time) (WalkResult, error) {
	var result WalkResult

	next, err := w.startTime(ctx, exchange, pair, period)
	if err != nil {
		return result, err
	}

	series := models.SeriesKey{ExchangeID: exchange.ID, CurrencyPairID: pair.ID, TimePeriodID: period.ID}
	timeframe := period.TimeframeCode()
	symbol := pair.Symbol()

	for {
		if !deadline.IsZero() && !w.now().Before(deadline) {
			return result, nil
		}

		// Boundary is the open time of the bar still forming now. Everything
		// before it is closed and safe to backfill.
		boundary := period.Truncate(w.now().UTC())
		if !next.Before(boundary) {
			result.CaughtUp = true
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		since := next
		bars, err := adapter.FetchCandles(ctx, symbol, timeframe, &since, w.pageSize)
		if err != nil {
			return result, err
		}
		if len(bars) == 0 {
			// No data at or after the resume point: the venue has nothing
			// older than its listing date, or the series is fully walked.
			result.CaughtUp = true
			return result, nil
		}

		fetchedAt := w.now().UTC()
		candles, dropped := w.normalizer.NormalizeBatch(exchange, pair, period, bars, fetchedAt)
		result.Pages++
		result.Fetched += len(bars)
		result.Dropped += dropped

		if len(candles) > 0 {
			upserts, err := w.store.UpsertCandles(ctx, period, candles)
			if err != nil {
				return result, err
			}
			result.Upserts.Inserted += upserts.Inserted
			result.Upserts.Updated += upserts.Updated
			result.Upserts.Skipped += upserts.Skipped
		}

		// Advance past the newest bar of the page, whether or not the
		// normalizer kept it.
		lastOpen := period.Truncate(bars[len(bars)-1].Timestamp.UTC())
		advanced := lastOpen.Add(period.Duration())
		if !advanced.After(next) {
			// A page that does not move the cursor forward would loop forever
			w.logger.WithFields(logrus.Fields{
				"exchange": exchange.Code,
				"symbol":   symbol,
				"next":     next.Format(time.RFC3339),
			}).Warn("Backfill page did not advance, stopping walk")
			return result, nil
		}
		next = advanced

		if err := w.cursors.Put(ctx, cache.BackfillCursor{
			ExchangeID:     series.ExchangeID,
			CurrencyPairID: series.CurrencyPairID,
			TimePeriodID:   series.TimePeriodID,
			NextOpenTime:   next,
		}); err != nil {
			// Advisory only: next run re-derives the position from the store
			w.logger.WithFields(logrus.Fields{
				"exchange": exchange.Code,
				"symbol":   symbol,
				"error":    err.Error(),
			}).Warn("Failed to persist backfill cursor")
		}

		if len(bars) < w.pageSize {
			result.CaughtUp = true
			return result, nil
		}
	}
}
