package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTickContext tags the logger carried by ctx with a fresh tick ID so all
// entries of one control-loop cycle can be correlated.
func WithTickContext(ctx context.Context, base *Logger) (context.Context, *Logger) {
	l := base.WithField("tick_id", uuid.NewString()[:8])
	return NewContext(ctx, l), l
}

// PositionContext creates a logger context for position operations
func PositionContext(l *Logger, symbol string, entryPrice, amount float64) *Logger {
	return l.WithFields(map[string]interface{}{
		"symbol":      symbol,
		"entry_price": entryPrice,
		"amount":      amount,
	})
}
