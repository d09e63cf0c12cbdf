package binance

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyExchange fails FetchBalance a fixed number of times before succeeding
type flakyExchange struct {
	*MockClient
	failures int
	err      error
	attempts int
}

func (f *flakyExchange) FetchBalance(ctx context.Context, asset string) (float64, error) {
	f.attempts++
	if f.attempts <= f.failures {
		return 0, f.err
	}
	return f.MockClient.FetchBalance(ctx, asset)
}

func fastRetry(max int) RetryConfig {
	return RetryConfig{
		MaxRetries:      max,
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetryClientTransientRecovers(t *testing.T) {
	inner := &flakyExchange{MockClient: NewMockClient(250), failures: 2, err: errors.New("connection reset")}
	client := NewRetryClient(inner, fastRetry(4), nil)

	bal, err := client.FetchBalance(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal != 250 {
		t.Errorf("balance = %v, want 250", bal)
	}
	if inner.attempts != 3 {
		t.Errorf("attempts = %d, want 3", inner.attempts)
	}
}

func TestRetryClientNonRetryableFailsFast(t *testing.T) {
	inner := &flakyExchange{MockClient: NewMockClient(0), failures: 10, err: errors.New("Account has insufficient balance")}
	client := NewRetryClient(inner, fastRetry(4), nil)

	_, err := client.FetchBalance(context.Background(), "USDT")
	if err == nil {
		t.Fatal("expected error")
	}
	var nre *NonRetryableError
	if !errors.As(err, &nre) {
		t.Fatalf("expected *NonRetryableError, got %T: %v", err, err)
	}
	if inner.attempts != 1 {
		t.Errorf("attempts = %d, want 1", inner.attempts)
	}
}

func TestRetryClientExhaustsAttempts(t *testing.T) {
	inner := &flakyExchange{MockClient: NewMockClient(0), failures: 10, err: errors.New("timeout")}
	client := NewRetryClient(inner, fastRetry(4), nil)

	_, err := client.FetchBalance(context.Background(), "USDT")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsNonRetryable(err) {
		t.Errorf("exhausted transient error should stay retryable: %v", err)
	}
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 4 {
		t.Errorf("expected *RetryExhaustedError after 4 attempts, got %T: %v", err, err)
	}
	if inner.attempts != 4 {
		t.Errorf("attempts = %d, want 4", inner.attempts)
	}
}

func TestRetryClientDefaultAttempts(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 3 {
		t.Fatalf("default MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond

	inner := &flakyExchange{MockClient: NewMockClient(0), failures: 10, err: errors.New("read tcp: i/o timeout")}
	client := NewRetryClient(inner, cfg, nil)

	_, err := client.FetchBalance(context.Background(), "USDT")
	if err == nil || IsNonRetryable(err) {
		t.Fatalf("err = %v, want a retryable exhaustion", err)
	}
	if inner.attempts != 3 {
		t.Errorf("attempts = %d, want 3", inner.attempts)
	}
}

func TestRetryClientStopsOnCancel(t *testing.T) {
	inner := &flakyExchange{MockClient: NewMockClient(0), failures: 10, err: errors.New("timeout")}
	cfg := fastRetry(10)
	cfg.InitialInterval = time.Second
	client := NewRetryClient(inner, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := client.FetchBalance(ctx, "USDT"); err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("retry loop ignored context cancellation")
	}
}
