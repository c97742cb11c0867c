package services

import (
	"sort"
	"time"

	"github.com/irfndi/candlefeed-go/internal/models"
	"github.com/irfndi/candlefeed-go/internal/utils"
	"github.com/irfndi/candlefeed-go/pkg/marketdata"
	"github.com/sirupsen/logrus"
)

// Normalizer converts raw exchange bars into storable candles for one
// (exchange, pair, period) series. Malformed bars are dropped and counted,
// never stored: a partially bad page still yields its good rows.
type Normalizer struct {
	logger *logrus.Logger
}

// NewNormalizer creates a new candle normalizer.
func NewNormalizer(logger *logrus.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// NormalizeBatch validates and converts one fetched page. The returned
// candles are deduplicated by open time (the last occurrence wins, matching
// exchange pagination where a re-sent bar carries fresher values) and sorted
// ascending. The second return value is the number of bars dropped.
func (n *Normalizer) NormalizeBatch(
	exchange models.Exchange,
	pair models.CurrencyPair,
	period models.TimePeriod,
	bars []marketdata.OHLCV,
	fetchedAt time.Time,
) ([]models.Candle, int) {
	dropped := 0
	byOpenTime := make(map[int64]models.Candle, len(bars))

	for _, bar := range bars {
		if err := n.validateBar(period, bar); err != nil {
			dropped++
			n.logger.WithFields(logrus.Fields{
				"exchange":  exchange.Code,
				"symbol":    pair.Symbol(),
				"timeframe": period.TimeframeCode(),
				"timestamp": bar.Timestamp.UTC().Format(time.RFC3339),
				"reason":    err.Error(),
			}).Warn("Dropping malformed bar")
			continue
		}

		openTime := bar.Timestamp.UTC()
		byOpenTime[openTime.UnixMilli()] = models.Candle{
			ExchangeID:     exchange.ID,
			CurrencyPairID: pair.ID,
			TimePeriodID:   period.ID,
			OpenTime:       openTime,
			Open:           bar.Open,
			High:           bar.High,
			Low:            bar.Low,
			Close:          bar.Close,
			Volume:         bar.Volume,
			FetchedAt:      fetchedAt,
		}
	}

	candles := make([]models.Candle, 0, len(byOpenTime))
	for _, c := range byOpenTime {
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	return candles, dropped
}

// validateBar enforces the OHLCV invariants and grid alignment.
func (n *Normalizer) validateBar(period models.TimePeriod, bar marketdata.OHLCV) error {
	if bar.Timestamp.IsZero() {
		return utils.NewMalformedRecordError("missing timestamp")
	}
	if !period.IsAligned(bar.Timestamp) {
		return utils.NewMalformedRecordErrorf("timestamp not aligned to %s grid", period.TimeframeCode())
	}
	if bar.Open.Sign() <= 0 || bar.High.Sign() <= 0 || bar.Low.Sign() <= 0 || bar.Close.Sign() <= 0 {
		return utils.NewMalformedRecordError("prices must be positive")
	}
	if bar.Volume.Sign() < 0 {
		return utils.NewMalformedRecordError("volume must be non-negative")
	}
	if bar.High.LessThan(bar.Low) {
		return utils.NewMalformedRecordError("high below low")
	}
	if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) {
		return utils.NewMalformedRecordError("high below open or close")
	}
	if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
		return utils.NewMalformedRecordError("low above open or close")
	}
	return nil
}
