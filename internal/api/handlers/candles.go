package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/candlefeed-go/internal/database"
	"github.com/irfndi/candlefeed-go/internal/models"
)

// CandleStore is the read surface the candle endpoints need.
type CandleStore interface {
	GetCandles(ctx context.Context, filter database.CandleFilter) ([]models.Candle, error)
	GetCollectionStats(ctx context.Context) (*models.CollectionStats, error)
}

// CandleHandler serves stored candle reads.
type CandleHandler struct {
	store CandleStore
}

// NewCandleHandler creates a new candle handler.
func NewCandleHandler(store CandleStore) *CandleHandler {
	return &CandleHandler{store: store}
}

// CandlesResponse represents the response for candle queries
type CandlesResponse struct {
	Data      []models.Candle `json:"data"`
	Count     int             `json:"count"`
	Timestamp time.Time       `json:"timestamp"`
}

// GetCandles handles GET /api/v1/candles with optional exchange_id, pair_id,
// period_id, limit and offset query parameters.
func (h *CandleHandler) GetCandles(c *gin.Context) {
	var filter database.CandleFilter

	for _, param := range []struct {
		name   string
		target **int
	}{
		{"exchange_id", &filter.ExchangeID},
		{"pair_id", &filter.CurrencyPairID},
		{"period_id", &filter.TimePeriodID},
	} {
		raw := c.Query(param.name)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param.name})
			return
		}
		*param.target = &value
	}

	if raw := c.Query("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = value
	}
	if raw := c.Query("offset"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = value
	}

	candles, err := h.store.GetCandles(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query candles"})
		return
	}

	c.JSON(http.StatusOK, CandlesResponse{
		Data:      candles,
		Count:     len(candles),
		Timestamp: time.Now().UTC(),
	})
}
