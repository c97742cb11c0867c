package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/candlefeed-go/internal/cache"
	"github.com/irfndi/candlefeed-go/internal/config"
	"github.com/irfndi/candlefeed-go/internal/database"
	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/irfndi/candlefeed-go/pkg/marketdata"
	"github.com/sirupsen/logrus"
)

// RunKind names the two collection cadences.
type RunKind string

const (
	RunCurrent    RunKind = "current"
	RunHistorical RunKind = "historical"
)

// UnitError records one failed collection unit inside an otherwise
// successful run.
type UnitError struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Error     string `json:"error"`
}

// RunResult summarizes one collection run across all its units.
type RunResult struct {
	RunID      string                `json:"run_id"`
	Kind       RunKind               `json:"kind"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Units      int                   `json:"units"`
	Succeeded  int                   `json:"succeeded"`
	Failed     int                   `json:"failed"`
	Skipped    int                   `json:"skipped"`
	Fetched    int                   `json:"fetched"`
	Dropped    int                   `json:"dropped"`
	Upserts    database.UpsertResult `json:"upserts"`
	Errors     []UnitError           `json:"errors,omitempty"`
}

// collectionUnit is one (exchange, pair, period) to collect in a run.
type collectionUnit struct {
	exchange models.Exchange
	pair     models.CurrencyPair
	period   models.TimePeriod
}

// CollectorService fans one run out over every active (exchange, pair,
// period) unit with bounded concurrency. A unit failure is recorded and
// isolated: it never aborts the run or its sibling units.
type CollectorService struct {
	store      CandleStore
	market     marketdata.MarketDataService
	normalizer *Normalizer
	walker     *BackfillWalker
	breakers   *BreakerRegistry
	cfg        config.CollectionConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// NewCollectorService creates the collection orchestrator.
func NewCollectorService(store CandleStore, market marketdata.MarketDataService, cursors cache.CursorCache, cfg config.CollectionConfig, logger *logrus.Logger) *CollectorService {
	normalizer := NewNormalizer(logger)
	return &CollectorService{
		store:      store,
		market:     market,
		normalizer: normalizer,
		walker:     NewBackfillWalker(store, cursors, normalizer, cfg.BackfillStartTime(), cfg.BackfillPageSize, logger),
		breakers:   NewBreakerRegistry(CircuitBreakerConfig{}, logger),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// RunCurrentCollection fetches the newest bars for every unit, keeping each
// series' forming candle fresh and finalizing the one that just closed.
func (c *CollectorService) RunCurrentCollection(ctx context.Context) (*RunResult, error) {
	return c.run(ctx, RunCurrent, c.collectCurrentUnit)
}

// RunHistoricalCollection walks every unit's history forward from its
// resume cursor toward the newest closed bar, within the run's time budget.
func (c *CollectorService) RunHistoricalCollection(ctx context.Context) (*RunResult, error) {
	return c.run(ctx, RunHistorical, c.collectHistoricalUnit)
}

// BreakerStates exposes the per-exchange circuit breaker states for status
// reporting.
func (c *CollectorService) BreakerStates() map[string]string {
	return c.breakers.States()
}

type unitOutcome struct {
	fetched int
	dropped int
	upserts database.UpsertResult
}

func (c *CollectorService) run(ctx context.Context, kind RunKind, collect func(context.Context, marketdata.ExchangeAdapter, collectionUnit, time.Time) (unitOutcome, error)) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.New().String(),
		Kind:      kind,
		StartedAt: c.now().UTC(),
	}

	// The time budget is soft: it gates the start of new units but never
	// cancels a fetch already in flight. Units still queued when it expires
	// are skipped and picked up by the next run.
	deadline := c.now().Add(c.cfg.RunTimeBudgetDuration())

	units, err := c.buildUnits(ctx)
	if err != nil {
		result.FinishedAt = c.now().UTC()
		return result, fmt.Errorf("failed to enumerate collection units: %w", err)
	}
	result.Units = len(units)

	c.logger.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"kind":   string(kind),
		"units":  len(units),
	}).Info("Collection run started")

	globalSem := make(chan struct{}, c.maxConcurrentUnits())
	exchangeSems := make(map[int]chan struct{})
	for _, unit := range units {
		if _, ok := exchangeSems[unit.exchange.ID]; !ok {
			exchangeSems[unit.exchange.ID] = make(chan struct{}, c.perExchangeConcurrency())
		}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, unit := range units {
		wg.Add(1)
		go func(unit collectionUnit) {
			defer wg.Done()

			globalSem <- struct{}{}
			defer func() { <-globalSem }()
			exchangeSem := exchangeSems[unit.exchange.ID]
			exchangeSem <- struct{}{}
			defer func() { <-exchangeSem }()

			if ctx.Err() != nil || !c.now().Before(deadline) {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return
			}

			outcome, err := c.collectUnit(ctx, unit, deadline, collect)

			mu.Lock()
			defer mu.Unlock()
			result.Fetched += outcome.fetched
			result.Dropped += outcome.dropped
			result.Upserts.Inserted += outcome.upserts.Inserted
			result.Upserts.Updated += outcome.upserts.Updated
			result.Upserts.Skipped += outcome.upserts.Skipped
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, UnitError{
					Exchange:  unit.exchange.Code,
					Symbol:    unit.pair.Symbol(),
					Timeframe: unit.period.TimeframeCode(),
					Error:     err.Error(),
				})
			} else {
				result.Succeeded++
			}
		}(unit)
	}
	wg.Wait()

	result.FinishedAt = c.now().UTC()
	c.logger.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"kind":      string(kind),
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
		"inserted":  result.Upserts.Inserted,
		"updated":   result.Upserts.Updated,
		"untouched": result.Upserts.Skipped,
		"duration":  result.FinishedAt.Sub(result.StartedAt).String(),
	}).Info("Collection run finished")

	return result, nil
}

// collectUnit runs one unit behind its exchange's circuit breaker.
func (c *CollectorService) collectUnit(ctx context.Context, unit collectionUnit, deadline time.Time, collect func(context.Context, marketdata.ExchangeAdapter, collectionUnit, time.Time) (unitOutcome, error)) (unitOutcome, error) {
	breaker := c.breakers.For(unit.exchange.Code)
	if !breaker.Allow() {
		return unitOutcome{}, fmt.Errorf("%s: %w", unit.exchange.Code, ErrCircuitOpen)
	}

	adapter := c.market.AdapterFor(unit.exchange)
	outcome, err := collect(ctx, adapter, unit, deadline)
	if err != nil {
		// A cancelled run says nothing about the venue's health, so only
		// genuine call failures count against the breaker.
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			breaker.RecordFailure()
		}
		c.logger.WithFields(logrus.Fields{
			"exchange":  unit.exchange.Code,
			"symbol":    unit.pair.Symbol(),
			"timeframe": unit.period.TimeframeCode(),
			"error":     err.Error(),
		}).Error("Collection unit failed")
		return outcome, err
	}
	breaker.RecordSuccess()
	return outcome, nil
}

// collectCurrentUnit fetches the newest bars for one unit. The fetch limit
// covers the forming bar plus the bar that just closed, so a tick landing
// right after a boundary still finalizes the closed one.
func (c *CollectorService) collectCurrentUnit(ctx context.Context, adapter marketdata.ExchangeAdapter, unit collectionUnit, _ time.Time) (unitOutcome, error) {
	limit := c.cfg.CurrentFetchLimit
	if limit <= 0 {
		limit = 2
	}

	bars, err := adapter.FetchCandles(ctx, unit.pair.Symbol(), unit.period.TimeframeCode(), nil, limit)
	if err != nil {
		return unitOutcome{}, err
	}

	candles, dropped := c.normalizer.NormalizeBatch(unit.exchange, unit.pair, unit.period, bars, c.now().UTC())
	outcome := unitOutcome{fetched: len(bars), dropped: dropped}
	if len(candles) == 0 {
		return outcome, nil
	}

	upserts, err := c.store.UpsertCandles(ctx, unit.period, candles)
	if err != nil {
		return outcome, err
	}
	outcome.upserts = upserts
	return outcome, nil
}

// collectHistoricalUnit advances one unit's backfill walk up to the run's
// soft deadline.
func (c *CollectorService) collectHistoricalUnit(ctx context.Context, adapter marketdata.ExchangeAdapter, unit collectionUnit, deadline time.Time) (unitOutcome, error) {
	walk, err := c.walker.Walk(ctx, adapter, unit.exchange, unit.pair, unit.period, deadline)
	outcome := unitOutcome{fetched: walk.Fetched, dropped: walk.Dropped, upserts: walk.Upserts}
	return outcome, err
}

// buildUnits enumerates every active (exchange, pair, period) combination.
// An exchange whose pair listing fails is skipped with a warning rather than
// failing the whole run.
func (c *CollectorService) buildUnits(ctx context.Context) ([]collectionUnit, error) {
	exchanges, err := c.store.ListActiveExchanges(ctx)
	if err != nil {
		return nil, err
	}
	periods, err := c.store.ListActivePeriods(ctx)
	if err != nil {
		return nil, err
	}

	var units []collectionUnit
	for _, exchange := range exchanges {
		pairs, err := c.store.ListActivePairs(ctx, exchange.ID)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"exchange": exchange.Code,
				"error":    err.Error(),
			}).Warn("Skipping exchange, failed to list pairs")
			continue
		}
		for _, pair := range pairs {
			for _, period := range periods {
				if period.TimeframeCode() == "" {
					continue
				}
				units = append(units, collectionUnit{exchange: exchange, pair: pair, period: period})
			}
		}
	}
	return units, nil
}

func (c *CollectorService) maxConcurrentUnits() int {
	if c.cfg.MaxConcurrentUnits > 0 {
		return c.cfg.MaxConcurrentUnits
	}
	return 8
}

func (c *CollectorService) perExchangeConcurrency() int {
	if c.cfg.PerExchangeConcurrency > 0 {
		return c.cfg.PerExchangeConcurrency
	}
	return 1
}
