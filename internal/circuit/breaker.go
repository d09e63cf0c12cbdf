package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // Normal operation
	StateOpen   BreakerState = "open"   // New entries halted until the daily reset
)

// BreakerConfig holds daily-loss breaker configuration
type BreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`         // negative percent of start-of-day balance
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // 0 disables
}

// DefaultBreakerConfig returns safe defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:              true,
		MaxDailyLoss:         -5,
		MaxConsecutiveLosses: 0,
	}
}

// BreakerStats is a snapshot for the API and the daily report
type BreakerStats struct {
	State             BreakerState `json:"state"`
	DayStartBalance   float64      `json:"day_start_balance"`
	RealizedToday     float64      `json:"realized_today"`
	DailyPnLPercent   float64      `json:"daily_pnl_percent"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	TradesToday       int          `json:"trades_today"`
	TripReason        string       `json:"trip_reason,omitempty"`
	LastTripTime      time.Time    `json:"last_trip_time,omitempty"`
}

// Breaker halts new entries when realized losses since the start of the day
// breach the configured limit. It stays open until StartDay.
type Breaker struct {
	config BreakerConfig

	mu                sync.RWMutex
	state             BreakerState
	dayStartBalance   float64
	realizedToday     float64
	consecutiveLosses int
	tradesToday       int
	tripReason        string
	lastTripTime      time.Time
	onTrip            func(reason string)
	onReset           func()
}

// NewBreaker creates a new circuit breaker
func NewBreaker(config BreakerConfig) *Breaker {
	return &Breaker{config: config, state: StateClosed}
}

// OnTrip sets callback for when breaker trips
func (cb *Breaker) OnTrip(handler func(reason string)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = handler
}

// OnReset sets callback for when breaker resets
func (cb *Breaker) OnReset(handler func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onReset = handler
}

// StartDay sets a new baseline balance and closes the breaker
func (cb *Breaker) StartDay(balance float64) {
	cb.mu.Lock()
	wasOpen := cb.state == StateOpen
	cb.state = StateClosed
	cb.dayStartBalance = balance
	cb.realizedToday = 0
	cb.consecutiveLosses = 0
	cb.tradesToday = 0
	cb.tripReason = ""
	handler := cb.onReset
	cb.mu.Unlock()

	if wasOpen && handler != nil {
		handler()
	}
}

// CanTrade checks if new entries are allowed
func (cb *Breaker) CanTrade() (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state == StateOpen {
		return false, fmt.Sprintf("circuit breaker open: %s", cb.tripReason)
	}
	return true, ""
}

// IsOpen reports a tripped breaker
func (cb *Breaker) IsOpen() bool {
	ok, _ := cb.CanTrade()
	return !ok
}

// RecordTrade records the realized profit of a closed position and trips
// the breaker when a limit is breached. It reports whether this call tripped it.
func (cb *Breaker) RecordTrade(profitUSDT float64) bool {
	if !cb.config.Enabled || math.IsNaN(profitUSDT) || math.IsInf(profitUSDT, 0) {
		return false
	}

	cb.mu.Lock()
	cb.tradesToday++
	cb.realizedToday += profitUSDT
	if profitUSDT < 0 {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}

	reason := cb.breachLocked()
	tripped := false
	var handler func(string)
	if reason != "" && cb.state != StateOpen {
		cb.state = StateOpen
		cb.tripReason = reason
		cb.lastTripTime = time.Now()
		tripped = true
		handler = cb.onTrip
	}
	cb.mu.Unlock()

	if handler != nil {
		handler(reason)
	}
	return tripped
}

func (cb *Breaker) dailyPnLPercentLocked() float64 {
	if cb.dayStartBalance <= 0 {
		return 0
	}
	return cb.realizedToday / cb.dayStartBalance * 100
}

func (cb *Breaker) breachLocked() string {
	pnl := cb.dailyPnLPercentLocked()
	if cb.dayStartBalance > 0 && pnl <= cb.config.MaxDailyLoss {
		return fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", pnl, cb.config.MaxDailyLoss)
	}
	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		return fmt.Sprintf("consecutive losses: %d", cb.consecutiveLosses)
	}
	return ""
}

// GetState returns current breaker state
func (cb *Breaker) GetState() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns current statistics
func (cb *Breaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return BreakerStats{
		State:             cb.state,
		DayStartBalance:   cb.dayStartBalance,
		RealizedToday:     cb.realizedToday,
		DailyPnLPercent:   cb.dailyPnLPercentLocked(),
		ConsecutiveLosses: cb.consecutiveLosses,
		TradesToday:       cb.tradesToday,
		TripReason:        cb.tripReason,
		LastTripTime:      cb.lastTripTime,
	}
}
