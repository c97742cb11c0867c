package services

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned when an exchange's breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the current state of an exchange breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds the thresholds for one exchange breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive unit failures that opens
	// the breaker for an exchange.
	FailureThreshold int `json:"failure_threshold"`
	// SuccessThreshold is the number of successes needed to close from half-open.
	SuccessThreshold int `json:"success_threshold"`
	// CoolDown is how long an open breaker rejects calls before probing again.
	CoolDown time.Duration `json:"cool_down"`
}

// ExchangeBreaker tracks failures for one exchange so a broken venue cannot
// burn a run's time budget. It never aborts the run: rejected units are
// reported as failed and the remaining exchanges continue.
type ExchangeBreaker struct {
	exchange string
	config   CircuitBreakerConfig
	logger   *logrus.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastStateChange time.Time
}

// NewExchangeBreaker creates a breaker for one exchange.
func NewExchangeBreaker(exchange string, config CircuitBreakerConfig, logger *logrus.Logger) *ExchangeBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.CoolDown <= 0 {
		config.CoolDown = 60 * time.Second
	}

	return &ExchangeBreaker{
		exchange:        exchange,
		config:          config,
		logger:          logger,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call to the exchange may proceed. An open breaker
// transitions to half-open once its cool-down has elapsed.
func (eb *ExchangeBreaker) Allow() bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.state == CircuitOpen {
		if time.Since(eb.lastStateChange) > eb.config.CoolDown {
			eb.setState(CircuitHalfOpen)
			eb.successCount = 0
			return true
		}
		return false
	}
	return true
}

// RecordSuccess registers a successful unit against the exchange.
func (eb *ExchangeBreaker) RecordSuccess() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	switch eb.state {
	case CircuitClosed:
		eb.failureCount = 0
	case CircuitHalfOpen:
		eb.successCount++
		if eb.successCount >= eb.config.SuccessThreshold {
			eb.setState(CircuitClosed)
			eb.failureCount = 0
		}
	}
}

// RecordFailure registers a failed unit against the exchange.
func (eb *ExchangeBreaker) RecordFailure() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	switch eb.state {
	case CircuitClosed:
		eb.failureCount++
		if eb.failureCount >= eb.config.FailureThreshold {
			eb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure while probing re-opens the breaker
		eb.setState(CircuitOpen)
	}
}

// State returns the current breaker state.
func (eb *ExchangeBreaker) State() CircuitState {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.state
}

func (eb *ExchangeBreaker) setState(newState CircuitState) {
	if eb.state == newState {
		return
	}
	oldState := eb.state
	eb.state = newState
	eb.lastStateChange = time.Now()

	eb.logger.WithFields(logrus.Fields{
		"exchange":      eb.exchange,
		"old_state":     oldState.String(),
		"new_state":     newState.String(),
		"failure_count": eb.failureCount,
	}).Info("Exchange circuit breaker state changed")
}

// BreakerRegistry holds one breaker per exchange.
type BreakerRegistry struct {
	config   CircuitBreakerConfig
	logger   *logrus.Logger
	mu       sync.Mutex
	breakers map[string]*ExchangeBreaker
}

// NewBreakerRegistry creates an empty registry sharing one config.
func NewBreakerRegistry(config CircuitBreakerConfig, logger *logrus.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*ExchangeBreaker),
	}
}

// For returns the breaker for an exchange, creating it on first use.
func (br *BreakerRegistry) For(exchange string) *ExchangeBreaker {
	br.mu.Lock()
	defer br.mu.Unlock()

	if breaker, ok := br.breakers[exchange]; ok {
		return breaker
	}
	breaker := NewExchangeBreaker(exchange, br.config, br.logger)
	br.breakers[exchange] = breaker
	return breaker
}

// States returns the current state of every known breaker.
func (br *BreakerRegistry) States() map[string]string {
	br.mu.Lock()
	defer br.mu.Unlock()

	states := make(map[string]string, len(br.breakers))
	for exchange, breaker := range br.breakers {
		states[exchange] = breaker.State().String()
	}
	return states
}
