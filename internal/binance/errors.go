package binance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// Message fragments that mark an error as permanent. Matching is case-insensitive.
var nonRetryableFragments = []string{
	"insufficient balance",
	"insufficient funds",
	"filter failure",
	"invalid symbol",
	"invalid quantity",
	"invalid price",
	"illegal characters",
	"ip banned",
	"ip_ban",
	"banned until",
}

// Exchange error codes that retrying cannot fix
var nonRetryableCodes = map[int64]bool{
	-1013: true, // filter failure
	-2010: true, // new order rejected
	-2011: true, // cancel rejected: order no longer open
	-2015: true, // invalid api key / permissions
}

// NonRetryableError reports an exchange rejection that must not be retried
type NonRetryableError struct {
	Op  string
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is a transient failure that outlasted every attempt
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsNonRetryable classifies err against the exchange denylist. Errors already
// typed by RetryClient keep their classification; only the exchange's own
// error is matched, never the operation name around it.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nre *NonRetryableError
	if errors.As(err, &nre) {
		return true
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if nonRetryableCodes[apiErr.Code] {
			return true
		}
		// -11xx are request-shape errors
		if apiErr.Code <= -1100 && apiErr.Code > -1200 {
			return true
		}
		return matchesDenylist(apiErr.Message)
	}
	return matchesDenylist(err.Error())
}

func matchesDenylist(msg string) bool {
	msg = strings.ToLower(msg)
	for _, frag := range nonRetryableFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
