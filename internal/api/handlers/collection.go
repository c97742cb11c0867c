package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/candlefeed-go/internal/services"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CollectionScheduler is the scheduling surface the collection endpoints
// drive. *services.SchedulerService implements it.
type CollectionScheduler interface {
	Trigger(name string) error
	Statuses() []services.JobStatus
	LastResult(name string) *services.RunResult
}

// BreakerReporter exposes per-exchange circuit breaker states.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

// CollectionHandler serves collection triggers, status and stats.
type CollectionHandler struct {
	scheduler CollectionScheduler
	breakers  BreakerReporter
	store     CandleStore
	titleCase cases.Caser
}

// NewCollectionHandler creates a new collection handler.
func NewCollectionHandler(scheduler CollectionScheduler, breakers BreakerReporter, store CandleStore) *CollectionHandler {
	return &CollectionHandler{
		scheduler: scheduler,
		breakers:  breakers,
		store:     store,
		titleCase: cases.Title(language.English),
	}
}

// TriggerCurrent handles POST /api/v1/collection/current. The run proceeds
// asynchronously; an overlapping trigger is rejected with 409.
func (h *CollectionHandler) TriggerCurrent(c *gin.Context) {
	h.trigger(c, services.JobCurrentCandles)
}

// TriggerHistorical handles POST /api/v1/collection/historical.
func (h *CollectionHandler) TriggerHistorical(c *gin.Context) {
	h.trigger(c, services.JobHistoricalCandles)
}

func (h *CollectionHandler) trigger(c *gin.Context, job string) {
	if err := h.scheduler.Trigger(job); err != nil {
		if errors.Is(err, services.ErrJobAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job":       job,
		"status":    "started",
		"timestamp": time.Now().UTC(),
	})
}

// CollectionStatusResponse represents the response for collection status
type CollectionStatusResponse struct {
	Jobs      []services.JobStatus           `json:"jobs"`
	Breakers  map[string]string              `json:"breakers"`
	LastRuns  map[string]*services.RunResult `json:"last_runs"`
	Timestamp time.Time                      `json:"timestamp"`
}

// GetStatus handles GET /api/v1/collection/status.
func (h *CollectionHandler) GetStatus(c *gin.Context) {
	response := CollectionStatusResponse{
		Jobs:      h.scheduler.Statuses(),
		Breakers:  h.breakers.BreakerStates(),
		LastRuns:  make(map[string]*services.RunResult),
		Timestamp: time.Now().UTC(),
	}
	for _, job := range []string{services.JobCurrentCandles, services.JobHistoricalCandles} {
		if result := h.scheduler.LastResult(job); result != nil {
			response.LastRuns[job] = result
		}
	}
	c.JSON(http.StatusOK, response)
}

// CollectionStatsResponse represents the response for dataset stats
type CollectionStatsResponse struct {
	TotalCandles            int64                `json:"total_candles"`
	TotalExchanges          int                  `json:"total_exchanges"`
	TotalPairs              int                  `json:"total_pairs"`
	TotalPeriods            int                  `json:"total_periods"`
	LatestUpdatePerExchange map[string]time.Time `json:"latest_update_per_exchange"`
	Timestamp               time.Time            `json:"timestamp"`
}

// GetStats handles GET /api/v1/collection/stats.
func (h *CollectionHandler) GetStats(c *gin.Context) {
	stats, err := h.store.GetCollectionStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read collection stats"})
		return
	}

	latest := make(map[string]time.Time, len(stats.LatestUpdatePerExchange))
	for name, ts := range stats.LatestUpdatePerExchange {
		latest[h.titleCase.String(name)] = ts
	}

	c.JSON(http.StatusOK, CollectionStatsResponse{
		TotalCandles:            stats.TotalCandles,
		TotalExchanges:          stats.TotalExchanges,
		TotalPairs:              stats.TotalPairs,
		TotalPeriods:            stats.TotalPeriods,
		LatestUpdatePerExchange: latest,
		Timestamp:               time.Now().UTC(),
	})
}
