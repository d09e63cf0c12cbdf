package risk

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrBelowMinNotional means the computed size cannot satisfy the market minimum
	ErrBelowMinNotional = errors.New("position size below minimum notional")
	// ErrInsufficientBalance means the computed size exceeds the free balance
	ErrInsufficientBalance = errors.New("position size exceeds balance")
)

// RiskManager handles position sizing and the price levels of a trade
type RiskManager struct {
	config *Config
}

// Config holds risk management configuration
type Config struct {
	RiskPercent       float64 // Percentage of balance committed per trade
	MaxPositions      int     // Maximum concurrent positions
	MinPositionUSD    float64 // Floor on the quote size of a trade
	StopLossPercent   float64 // Hard stop distance below entry
	TakeProfitPercent float64 // Hard target distance above entry
	MaxBuySlippage    float64 // Limit order offset from market, below for buys and above for sells
	FeePercent        float64 // Taker fee charged on exit notional
	StopLimitOffset   float64 // OCO stop-limit leg distance below the stop price
}

// DefaultConfig returns the standard 2% risk, 2.5% stop, 7% target setup
func DefaultConfig() *Config {
	return &Config{
		RiskPercent:       2,
		MaxPositions:      5,
		MinPositionUSD:    15,
		StopLossPercent:   2.5,
		TakeProfitPercent: 7,
		MaxBuySlippage:    0.3,
		FeePercent:        0.1,
		StopLimitOffset:   0.5,
	}
}

// NewRiskManager creates a new risk manager
func NewRiskManager(config *Config) *RiskManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &RiskManager{config: config}
}

// Config returns the active configuration
func (rm *RiskManager) Config() Config {
	return *rm.config
}

// PositionSize returns the quote amount to commit from balance:
// max(MinPositionUSD, min(balance*RiskPercent/100, balance/MaxPositions)).
func (rm *RiskManager) PositionSize(balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	size := balance * rm.config.RiskPercent / 100
	if rm.config.MaxPositions > 0 {
		size = math.Min(size, balance/float64(rm.config.MaxPositions))
	}
	return math.Max(rm.config.MinPositionUSD, size)
}

// ValidateSize checks a quote size against the balance and the market minimum
func (rm *RiskManager) ValidateSize(size, balance, minNotional float64) error {
	if size > balance {
		return fmt.Errorf("%w: size %.2f, balance %.2f", ErrInsufficientBalance, size, balance)
	}
	if minNotional > 0 && size < minNotional {
		return fmt.Errorf("%w: size %.2f, minimum %.2f", ErrBelowMinNotional, size, minNotional)
	}
	return nil
}

// BuyLimitPrice is the limit price of an entry order placed from price
func (rm *RiskManager) BuyLimitPrice(price float64) float64 {
	return price * (1 - rm.config.MaxBuySlippage/100)
}

// SellLimitPrice is the limit price of an exit order placed from price
func (rm *RiskManager) SellLimitPrice(price float64) float64 {
	return price * (1 + rm.config.MaxBuySlippage/100)
}

// Levels returns the stop-loss and take-profit of a position entered at entry
func (rm *RiskManager) Levels(entry float64) (stopLoss, takeProfit float64) {
	stopLoss = entry * (1 - rm.config.StopLossPercent/100)
	takeProfit = entry * (1 + rm.config.TakeProfitPercent/100)
	return stopLoss, takeProfit
}

// StopLimitPrice is the limit leg of a stop order triggered at stopLoss
func (rm *RiskManager) StopLimitPrice(stopLoss float64) float64 {
	return stopLoss * (1 - rm.config.StopLimitOffset/100)
}

// CanOpenPosition checks whether another position fits under the cap
func (rm *RiskManager) CanOpenPosition(open int) (bool, string) {
	if rm.config.MaxPositions > 0 && open >= rm.config.MaxPositions {
		return false, fmt.Sprintf("max positions reached (%d/%d)", open, rm.config.MaxPositions)
	}
	return true, ""
}

// Outcome is the realized result of a closed position
type Outcome struct {
	ProfitPercent float64
	ProfitUSDT    float64
	Fee           float64
}

// Settle computes the net result of selling amount at exit after buying at entry.
// The fee is charged on the exit notional.
func (rm *RiskManager) Settle(entry, exit, amount float64) Outcome {
	fee := exit * amount * rm.config.FeePercent / 100
	return Outcome{
		ProfitPercent: ProfitPercent(entry, exit),
		ProfitUSDT:    (exit-entry)*amount - fee,
		Fee:           fee,
	}
}

// ProfitPercent is the gross move from entry to price in percent
func ProfitPercent(entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (price - entry) / entry * 100
}
