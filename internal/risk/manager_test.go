package risk

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPositionSize(t *testing.T) {
	rm := NewRiskManager(DefaultConfig())

	tests := []struct {
		name    string
		balance float64
		want    float64
	}{
		{"risk percent wins", 1000, 20},
		{"floor applies", 300, 15},
		{"per-position cap wins", 1000000, 20000},
		{"empty balance", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rm.PositionSize(tt.balance); !approx(got, tt.want) {
				t.Errorf("PositionSize(%v) = %v, want %v", tt.balance, got, tt.want)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.RiskPercent = 50
	capped := NewRiskManager(cfg)
	if got := capped.PositionSize(1000); !approx(got, 200) {
		t.Errorf("capped PositionSize = %v, want 200", got)
	}
}

func TestPositionSizeAmount(t *testing.T) {
	rm := NewRiskManager(DefaultConfig())
	size := rm.PositionSize(1000)
	if amount := size / 2.0; !approx(amount, 10) {
		t.Errorf("amount at $2 = %v, want 10", amount)
	}
}

func TestValidateSize(t *testing.T) {
	rm := NewRiskManager(DefaultConfig())

	if err := rm.ValidateSize(20, 1000, 10); err != nil {
		t.Errorf("expected valid size, got %v", err)
	}
	if err := rm.ValidateSize(20, 10, 5); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := rm.ValidateSize(15, 1000, 20); !errors.Is(err, ErrBelowMinNotional) {
		t.Errorf("expected ErrBelowMinNotional, got %v", err)
	}
}

func TestLevels(t *testing.T) {
	rm := NewRiskManager(DefaultConfig())
	sl, tp := rm.Levels(100)
	if !approx(sl, 97.5) || !approx(tp, 107) {
		t.Errorf("Levels(100) = %v/%v, want 97.5/107", sl, tp)
	}
	if sl >= tp {
		t.Error("stop loss must be below take profit")
	}
	if got := rm.StopLimitPrice(sl); !approx(got, 97.5*0.995) {
		t.Errorf("StopLimitPrice = %v", got)
	}
}

func TestLimitPrices(t *testing.T) {
	rm := NewRiskManager(DefaultConfig())
	if got := rm.BuyLimitPrice(100); !approx(got, 99.7) {
		t.Errorf("BuyLimitPrice = %v, want 99.7", got)
	}
	if got := rm.SellLimitPrice(100); !approx(got, 100.3) {
		t.Errorf("SellLimitPrice = %v, want 100.3", got)
	}
}

func TestSettle(t *testing.T) {
	rm := NewRiskManager(DefaultConfig())
	out := rm.Settle(100, 110, 2)

	if !approx(out.Fee, 0.22) {
		t.Errorf("Fee = %v, want 0.22", out.Fee)
	}
	if !approx(out.ProfitUSDT, 19.78) {
		t.Errorf("ProfitUSDT = %v, want 19.78", out.ProfitUSDT)
	}
	if !approx(out.ProfitPercent, 10) {
		t.Errorf("ProfitPercent = %v, want 10", out.ProfitPercent)
	}

	loss := rm.Settle(100, 97.5, 1)
	if loss.ProfitUSDT >= 0 {
		t.Errorf("expected a loss, got %v", loss.ProfitUSDT)
	}
}

func TestCanOpenPosition(t *testing.T) {
	rm := NewRiskManager(DefaultConfig())
	if ok, _ := rm.CanOpenPosition(4); !ok {
		t.Error("expected room for a fifth position")
	}
	if ok, reason := rm.CanOpenPosition(5); ok || reason == "" {
		t.Error("expected max positions to block")
	}
}
