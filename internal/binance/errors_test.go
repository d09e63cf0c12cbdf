package binance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
)

func TestIsNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", context.DeadlineExceeded, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), false},
		{"insufficient balance", errors.New("Account has insufficient balance for requested action."), true},
		{"min notional", errors.New("Filter failure: MIN_NOTIONAL"), true},
		{"notional", errors.New("Filter failure: NOTIONAL"), true},
		{"bare notional", errors.New("notional value report unavailable"), false},
		{"invalid symbol", errors.New("Invalid symbol."), true},
		{"ip ban", errors.New("IP_BAN until 1700000000"), true},
		{"banned", errors.New("Way too many requests; IP banned until 1700000000"), true},
		{"api filter code", &common.APIError{Code: -1013, Message: "Filter failure: LOT_SIZE"}, true},
		{"api rejected code", &common.APIError{Code: -2010, Message: "New order rejected"}, true},
		{"api cancel rejected", &common.APIError{Code: -2011, Message: "Unknown order sent."}, true},
		{"api key code", &common.APIError{Code: -2015, Message: "API-key format"}, true},
		{"api request shape", &common.APIError{Code: -1121, Message: "Bad symbol"}, true},
		{"api overload", &common.APIError{Code: -1001, Message: "Internal error; unable to process your request"}, false},
		{"wrapped", fmt.Errorf("create order: %w", &common.APIError{Code: -2010}), true},
		{"typed", &NonRetryableError{Op: "x", Err: errors.New("whatever")}, true},
		{"exhausted", &RetryExhaustedError{Op: "fetchBalance", Attempts: 3, Err: errors.New("i/o timeout")}, false},
		{"op name is not classified", fmt.Errorf("fetchBalance: %w", errors.New("i/o timeout")), false},
		{"bare invalid", errors.New("invalid memory layout in proxy response"), false},
		{"api message", &common.APIError{Code: -1000, Message: "Account has insufficient balance"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNonRetryable(tt.err); got != tt.want {
				t.Errorf("IsNonRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
