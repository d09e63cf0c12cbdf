package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"spot-trading-engine/internal/autopilot"
)

func TestShutdownError(t *testing.T) {
	boom := errors.New("bind: address already in use")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"clean", nil, nil},
		{"daily loss halt", autopilot.ErrDailyLossHalt, nil},
		{"wrapped halt", fmt.Errorf("controller: %w", autopilot.ErrDailyLossHalt), nil},
		{"cancelled", context.Canceled, context.Canceled},
		{"failure", boom, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shutdownError(tt.err); !errors.Is(got, tt.want) || (tt.want == nil && got != nil) {
				t.Errorf("shutdownError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
