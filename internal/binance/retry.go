package binance

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"spot-trading-engine/internal/logging"
)

// RetryConfig controls the exponential backoff applied to exchange calls
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// DefaultRetryConfig waits 2s, then 4s, between three attempts
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 2 * time.Second,
		Multiplier:      2,
		MaxInterval:     30 * time.Second,
	}
}

// RetryClient decorates an Exchange so every call is retried with exponential
// backoff. Denylisted errors fail on the first attempt as *NonRetryableError.
type RetryClient struct {
	inner  Exchange
	cfg    RetryConfig
	logger *logging.Logger
}

// NewRetryClient wraps inner with retry behaviour
func NewRetryClient(inner Exchange, cfg RetryConfig, logger *logging.Logger) *RetryClient {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RetryClient{inner: inner, cfg: cfg, logger: logger.WithComponent("RetryClient")}
}

func (r *RetryClient) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.Multiplier = r.cfg.Multiplier
	b.RandomizationFactor = 0
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries-1)), ctx)
}

func withRetry[T any](ctx context.Context, r *RetryClient, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && IsNonRetryable(err) {
			r.logger.Warn("Non-retryable exchange error", "op", op, "error", err)
			return v, backoff.Permanent(&NonRetryableError{Op: op, Err: err})
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("Exchange call failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", r.cfg.MaxRetries,
			"wait", wait,
			"error", err)
	}

	v, err := backoff.RetryNotifyWithData(operation, r.newBackOff(ctx), notify)
	var nre *NonRetryableError
	if err != nil && !errors.As(err, &nre) {
		return v, &RetryExhaustedError{Op: op, Attempts: attempt, Err: err}
	}
	return v, err
}

func (r *RetryClient) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	return withRetry(ctx, r, "loadMarkets", func() (map[string]Market, error) {
		return r.inner.LoadMarkets(ctx)
	})
}

func (r *RetryClient) FetchBalance(ctx context.Context, asset string) (float64, error) {
	return withRetry(ctx, r, "fetchBalance", func() (float64, error) {
		return r.inner.FetchBalance(ctx, asset)
	})
}

func (r *RetryClient) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return withRetry(ctx, r, "fetchTicker "+symbol, func() (*Ticker, error) {
		return r.inner.FetchTicker(ctx, symbol)
	})
}

func (r *RetryClient) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	return withRetry(ctx, r, "fetchTickers", func() (map[string]Ticker, error) {
		return r.inner.FetchTickers(ctx)
	})
}

func (r *RetryClient) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return withRetry(ctx, r, "fetchOHLCV "+symbol, func() ([]Kline, error) {
		return r.inner.FetchOHLCV(ctx, symbol, interval, limit)
	})
}

func (r *RetryClient) GetMarket(ctx context.Context, symbol string) (*Market, error) {
	return withRetry(ctx, r, "getMarket "+symbol, func() (*Market, error) {
		return r.inner.GetMarket(ctx, symbol)
	})
}

func (r *RetryClient) CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error) {
	return withRetry(ctx, r, "createLimitBuyOrder "+symbol, func() (*Order, error) {
		return r.inner.CreateLimitBuyOrder(ctx, symbol, amount, price)
	})
}

func (r *RetryClient) CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*Order, error) {
	return withRetry(ctx, r, "createLimitSellOrder "+symbol, func() (*Order, error) {
		return r.inner.CreateLimitSellOrder(ctx, symbol, amount, price)
	})
}

func (r *RetryClient) FetchOrder(ctx context.Context, id, symbol string) (*Order, error) {
	return withRetry(ctx, r, "fetchOrder "+symbol, func() (*Order, error) {
		return r.inner.FetchOrder(ctx, id, symbol)
	})
}

func (r *RetryClient) CancelOrder(ctx context.Context, id, symbol string) error {
	_, err := withRetry(ctx, r, "cancelOrder "+symbol, func() (struct{}, error) {
		return struct{}{}, r.inner.CancelOrder(ctx, id, symbol)
	})
	return err
}

func (r *RetryClient) CreateOCOOrder(ctx context.Context, symbol string, amount, stopLoss, stopLimit, takeProfit float64) (*OCOOrder, error) {
	return withRetry(ctx, r, "createOCOOrder "+symbol, func() (*OCOOrder, error) {
		return r.inner.CreateOCOOrder(ctx, symbol, amount, stopLoss, stopLimit, takeProfit)
	})
}

func (r *RetryClient) CancelOCOOrder(ctx context.Context, symbol string, orderListID int64) error {
	_, err := withRetry(ctx, r, "cancelOCOOrder "+symbol, func() (struct{}, error) {
		return struct{}{}, r.inner.CancelOCOOrder(ctx, symbol, orderListID)
	})
	return err
}

func (r *RetryClient) FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	return withRetry(ctx, r, "fetchOpenOrders "+symbol, func() ([]Order, error) {
		return r.inner.FetchOpenOrders(ctx, symbol)
	})
}
