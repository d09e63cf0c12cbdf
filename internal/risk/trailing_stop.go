package risk

// Exit reasons recorded on SELL trades
const (
	ReasonTrailingTakeProfit = "Trailing Take Profit"
	ReasonTakeProfit         = "Take Profit"
	ReasonStopLoss           = "Stop Loss"
	ReasonTrailingStop       = "Trailing Stop"
	ReasonBracketTakeProfit  = "OCO Take Profit"
	ReasonBracketStopLoss    = "OCO Stop Loss"
	ReasonManual             = "Manual Close"
)

// TrailingConfig holds the dynamic stop and software exit configuration
type TrailingConfig struct {
	DynamicStopEnabled bool    // Raise the stop as profit grows
	BreakevenAt        float64 // Profit % that moves the stop to entry
	LockProfitAt       float64 // Profit % that locks LockProfitPercent
	LockProfitPercent  float64 // Profit kept by the locked stop

	TrailingTPEnabled  bool    // Exit on a retrace once well in profit
	TrailingTPActivate float64 // Profit % that arms the trailing take profit
	TrailingTPPercent  float64 // Retrace from peak that triggers it

	TrailingStopPercent float64 // Retrace from peak for the trailing stop
	MinSellProfit       float64 // Trailing stop only fires above this profit %
}

// DefaultTrailingConfig returns breakeven at 3%, lock 2% at 5%, trailing TP 5%/1.5%
func DefaultTrailingConfig() *TrailingConfig {
	return &TrailingConfig{
		DynamicStopEnabled:  true,
		BreakevenAt:         3,
		LockProfitAt:        5,
		LockProfitPercent:   2,
		TrailingTPEnabled:   true,
		TrailingTPActivate:  5,
		TrailingTPPercent:   1.5,
		TrailingStopPercent: 3.5,
		MinSellProfit:       0.5,
	}
}

// TrailingPosition is the price state of one long position
type TrailingPosition struct {
	Symbol     string
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Peak       float64 // Highest price since entry
}

// StopUpdate represents a stop loss update
type StopUpdate struct {
	Symbol      string
	OldStopLoss float64
	NewStopLoss float64
	Reason      string // "breakeven" or "lock"
}

// TrailingStopManager applies the dynamic stop and the software exit rules.
// It holds no position state; callers own and persist TrailingPosition.
type TrailingStopManager struct {
	config *TrailingConfig
}

// NewTrailingStopManager creates a new trailing stop manager
func NewTrailingStopManager(config *TrailingConfig) *TrailingStopManager {
	if config == nil {
		config = DefaultTrailingConfig()
	}
	return &TrailingStopManager{config: config}
}

// UpdatePeak raises the peak of pos to price. It reports whether it moved.
func UpdatePeak(pos *TrailingPosition, price float64) bool {
	if price > pos.Peak {
		pos.Peak = price
		return true
	}
	return false
}

// UpdateStop applies the breakeven and lock rules at price. The stop only ever
// moves up; nil is returned when it does not move.
func (tsm *TrailingStopManager) UpdateStop(pos *TrailingPosition, price float64) *StopUpdate {
	cfg := tsm.config
	if !cfg.DynamicStopEnabled || pos.EntryPrice <= 0 {
		return nil
	}

	profit := ProfitPercent(pos.EntryPrice, price)
	old := pos.StopLoss
	reason := ""

	if profit >= cfg.BreakevenAt && pos.StopLoss < pos.EntryPrice {
		pos.StopLoss = pos.EntryPrice
		reason = "breakeven"
	}
	if cfg.LockProfitAt > 0 && profit >= cfg.LockProfitAt {
		lock := pos.EntryPrice * (1 + cfg.LockProfitPercent/100)
		if pos.StopLoss < lock {
			pos.StopLoss = lock
			reason = "lock"
		}
	}

	if reason == "" {
		return nil
	}
	return &StopUpdate{
		Symbol:      pos.Symbol,
		OldStopLoss: old,
		NewStopLoss: pos.StopLoss,
		Reason:      reason,
	}
}

// ExitReason evaluates the software exits in precedence order: trailing take
// profit, take profit, stop loss, trailing stop. Empty means hold.
func (tsm *TrailingStopManager) ExitReason(pos TrailingPosition, price float64) string {
	cfg := tsm.config
	profit := ProfitPercent(pos.EntryPrice, price)
	peak := pos.Peak
	if peak < price {
		peak = price
	}

	if cfg.TrailingTPEnabled && profit >= cfg.TrailingTPActivate &&
		price <= peak*(1-cfg.TrailingTPPercent/100) {
		return ReasonTrailingTakeProfit
	}
	if pos.TakeProfit > 0 && price >= pos.TakeProfit {
		return ReasonTakeProfit
	}
	if pos.StopLoss > 0 && price <= pos.StopLoss {
		return ReasonStopLoss
	}
	if cfg.TrailingStopPercent > 0 && price <= peak*(1-cfg.TrailingStopPercent/100) &&
		profit > cfg.MinSellProfit {
		return ReasonTrailingStop
	}
	return ""
}

// BracketReason names the triggered leg of a bracket that left the book
func BracketReason(pos TrailingPosition, price float64) string {
	if price >= pos.TakeProfit {
		return ReasonBracketTakeProfit
	}
	return ReasonBracketStopLoss
}
