package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Request weights of the spot REST endpoints used by Client
const (
	WeightExchangeInfo  = 20
	WeightTickerAll     = 80
	WeightTickerSingle  = 2
	WeightKlines        = 2
	WeightAccount       = 20
	WeightOrder         = 1
	WeightQueryOrder    = 4
	WeightOpenOrders    = 6
	WeightCancelOrder   = 1
	WeightPriceSingle   = 2
	defaultWeightBudget = 3000
)

// RateLimiter spreads a per-minute request-weight budget with a token bucket
// and holds all requests while an exchange ban is in force.
type RateLimiter struct {
	limiter *rate.Limiter

	mu       sync.RWMutex
	banUntil time.Time
	used     int64
}

// NewRateLimiter creates a limiter for weightPerMinute
func NewRateLimiter(weightPerMinute int) *RateLimiter {
	if weightPerMinute <= 0 {
		weightPerMinute = defaultWeightBudget
	}
	burst := weightPerMinute / 10
	if burst < WeightTickerAll {
		burst = WeightTickerAll
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(weightPerMinute)/60.0), burst),
	}
}

// Wait blocks until weight units are available or ctx ends
func (r *RateLimiter) Wait(ctx context.Context, weight int) error {
	r.mu.RLock()
	banUntil := r.banUntil
	r.mu.RUnlock()

	if wait := time.Until(banUntil); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := r.limiter.WaitN(ctx, weight); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	r.mu.Lock()
	r.used += int64(weight)
	r.mu.Unlock()
	return nil
}

// Ban pauses every request for d, used after a 418/429 response
func (r *RateLimiter) Ban(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(r.banUntil) {
		r.banUntil = until
	}
}

// IsBanned reports whether requests are currently held
func (r *RateLimiter) IsBanned() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Now().Before(r.banUntil)
}

// UsedWeight returns the total weight consumed since start
func (r *RateLimiter) UsedWeight() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.used
}
