package risk

import (
	"math/rand"
	"testing"
)

func TestUpdateStopBreakeven(t *testing.T) {
	cfg := DefaultTrailingConfig()
	cfg.LockProfitAt = 8
	tsm := NewTrailingStopManager(cfg)

	pos := &TrailingPosition{Symbol: "ABCUSDT", EntryPrice: 100, StopLoss: 97.5, TakeProfit: 107, Peak: 100}
	update := tsm.UpdateStop(pos, 106)
	if update == nil {
		t.Fatal("expected stop update")
	}
	if pos.StopLoss != 100 {
		t.Errorf("StopLoss = %v, want exactly 100", pos.StopLoss)
	}
	if update.Reason != "breakeven" || update.OldStopLoss != 97.5 {
		t.Errorf("unexpected update %+v", update)
	}

	if again := tsm.UpdateStop(pos, 106); again != nil {
		t.Errorf("expected no second update, got %+v", again)
	}
}

func TestUpdateStopLock(t *testing.T) {
	tsm := NewTrailingStopManager(DefaultTrailingConfig())

	pos := &TrailingPosition{EntryPrice: 100, StopLoss: 97.5, TakeProfit: 107, Peak: 100}
	if u := tsm.UpdateStop(pos, 102); u != nil {
		t.Errorf("no rule should fire at +2%%, got %+v", u)
	}
	tsm.UpdateStop(pos, 104)
	if pos.StopLoss != 100 {
		t.Errorf("StopLoss after +4%% = %v, want 100", pos.StopLoss)
	}
	u := tsm.UpdateStop(pos, 105.5)
	if u == nil || u.Reason != "lock" {
		t.Fatalf("expected lock update, got %+v", u)
	}
	if !approx(pos.StopLoss, 102) {
		t.Errorf("StopLoss after +5.5%% = %v, want 102", pos.StopLoss)
	}

	// a price drop never loosens the stop
	tsm.UpdateStop(pos, 99)
	if !approx(pos.StopLoss, 102) {
		t.Errorf("StopLoss loosened to %v", pos.StopLoss)
	}
}

func TestUpdateStopDisabled(t *testing.T) {
	cfg := DefaultTrailingConfig()
	cfg.DynamicStopEnabled = false
	tsm := NewTrailingStopManager(cfg)

	pos := &TrailingPosition{EntryPrice: 100, StopLoss: 97.5}
	if u := tsm.UpdateStop(pos, 120); u != nil || pos.StopLoss != 97.5 {
		t.Errorf("disabled dynamic stop moved: %+v", pos)
	}
}

func TestStopNeverDecreases(t *testing.T) {
	tsm := NewTrailingStopManager(DefaultTrailingConfig())
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		pos := &TrailingPosition{EntryPrice: 100, StopLoss: 97.5, TakeProfit: 107, Peak: 100}
		price := 100.0
		for step := 0; step < 200; step++ {
			price *= 1 + (rng.Float64()-0.5)*0.04
			before := pos.StopLoss
			peakBefore := pos.Peak
			UpdatePeak(pos, price)
			tsm.UpdateStop(pos, price)
			if pos.StopLoss < before {
				t.Fatalf("run %d step %d: stop fell %v -> %v", run, step, before, pos.StopLoss)
			}
			if pos.Peak < peakBefore {
				t.Fatalf("run %d step %d: peak fell %v -> %v", run, step, peakBefore, pos.Peak)
			}
		}
	}
}

func TestExitReason(t *testing.T) {
	tsm := NewTrailingStopManager(DefaultTrailingConfig())

	tests := []struct {
		name  string
		pos   TrailingPosition
		price float64
		want  string
	}{
		{"hold", TrailingPosition{EntryPrice: 100, StopLoss: 97.5, TakeProfit: 107, Peak: 101}, 100.5, ""},
		{"take profit", TrailingPosition{EntryPrice: 100, StopLoss: 97.5, TakeProfit: 107, Peak: 107}, 107, ReasonTakeProfit},
		{"stop loss", TrailingPosition{EntryPrice: 100, StopLoss: 97.5, TakeProfit: 107, Peak: 100}, 97.4, ReasonStopLoss},
		{"trailing take profit before take profit", TrailingPosition{EntryPrice: 100, StopLoss: 102, TakeProfit: 107, Peak: 112}, 108, ReasonTrailingTakeProfit},
		{"trailing stop above floor", TrailingPosition{EntryPrice: 100, StopLoss: 95, TakeProfit: 120, Peak: 108}, 104, ReasonTrailingStop},
		{"trailing stop below floor holds", TrailingPosition{EntryPrice: 100, StopLoss: 95, TakeProfit: 120, Peak: 104}, 100.3, ""},
		{"stop loss before trailing stop", TrailingPosition{EntryPrice: 100, StopLoss: 101, TakeProfit: 120, Peak: 106}, 101, ReasonStopLoss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tsm.ExitReason(tt.pos, tt.price); got != tt.want {
				t.Errorf("ExitReason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBracketReason(t *testing.T) {
	pos := TrailingPosition{EntryPrice: 100, StopLoss: 97.5, TakeProfit: 107}
	if got := BracketReason(pos, 107.2); got != ReasonBracketTakeProfit {
		t.Errorf("got %q", got)
	}
	if got := BracketReason(pos, 97); got != ReasonBracketStopLoss {
		t.Errorf("got %q", got)
	}
}
