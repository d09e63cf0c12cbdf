package strategy

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	got, err := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{math.NaN(), math.NaN(), 2, 3, 4}
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				t.Errorf("sma[%d] = %v, want NaN", i, got[i])
			}
			continue
		}
		if !approx(got[i], want[i]) {
			t.Errorf("sma[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	got, err := EMA([]float64{2, 4, 6, 8}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(got[1]) {
		t.Errorf("warm-up should be NaN, got %v", got[1])
	}
	if !approx(got[2], 4) {
		t.Errorf("seed = %v, want 4", got[2])
	}
	// k = 0.5: 8*0.5 + 4*0.5
	if !approx(got[3], 6) {
		t.Errorf("ema[3] = %v, want 6", got[3])
	}
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{"only gains", []float64{1, 2, 3, 4, 5}, 100},
		{"flat", []float64{5, 5, 5, 5, 5}, 50},
		{"only losses", []float64{5, 4, 3, 2, 1}, 0},
		{"balanced", []float64{10, 11, 10, 11, 10}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RSI(tt.closes, 4)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.closes) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.closes))
			}
			if !approx(Last(got), tt.want) {
				t.Errorf("rsi = %v, want %v", Last(got), tt.want)
			}
			if !math.IsNaN(got[3]) {
				t.Errorf("rsi[3] should be NaN, got %v", got[3])
			}
		})
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	// first window: gain 2, loss 0 over 2 changes -> avgGain 1, avgLoss 0
	// next change -1: avgGain 0.5, avgLoss 0.5 -> 50
	got, err := RSI([]float64{10, 11, 12, 11}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(got[2], 100) || !approx(got[3], 50) {
		t.Errorf("rsi = %v", got)
	}
}

func TestMACDWarmUp(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	macd, signal, err := MACD(closes, 12, 26, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(macd) != len(closes) || len(signal) != len(closes) {
		t.Fatal("outputs must match input length")
	}
	if !math.IsNaN(macd[24]) || math.IsNaN(macd[25]) {
		t.Error("macd line should start at index slow-1")
	}
	if !math.IsNaN(signal[32]) || math.IsNaN(signal[33]) {
		t.Error("signal line should start at index slow+signal-2")
	}
	if Last(macd) <= 0 {
		t.Errorf("rising series should have positive macd, got %v", Last(macd))
	}
}

func TestATR(t *testing.T) {
	highs := []float64{11, 12, 13, 14}
	lows := []float64{9, 10, 11, 12}
	closes := []float64{10, 11, 12, 13}
	got, err := ATR(highs, lows, closes, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(got[0]) {
		t.Errorf("atr[0] = %v, want NaN", got[0])
	}
	// every true range is 2
	for i := 1; i < len(got); i++ {
		if !approx(got[i], 2) {
			t.Errorf("atr[%d] = %v, want 2", i, got[i])
		}
	}
	if _, err := ATR(highs[:3], lows, closes, 2); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestVolumeSurge(t *testing.T) {
	vols := []float64{100, 100, 100, 300}
	surge, ratio, err := VolumeSurge(vols, 4, 1.3)
	if err != nil {
		t.Fatal(err)
	}
	if !surge || !approx(ratio, 2) {
		t.Errorf("surge = %v ratio = %v", surge, ratio)
	}
	surge, _, _ = VolumeSurge([]float64{100, 100, 100, 100}, 4, 1.3)
	if surge {
		t.Error("flat volume is not a surge")
	}
}

func TestInsufficientHistory(t *testing.T) {
	short := []float64{1, 2, 3}
	checks := map[string]error{}
	_, checks["sma"] = SMA(short, 5)
	_, checks["ema"] = EMA(short, 5)
	_, checks["rsi"] = RSI(short, 3)
	_, _, checks["macd"] = MACD(short, 12, 26, 9)
	_, checks["atr"] = ATR(short, short, short, 5)
	_, _, checks["volume"] = VolumeSurge(short, 5, 1.3)
	for name, err := range checks {
		if !errors.Is(err, ErrInsufficientHistory) {
			t.Errorf("%s: expected ErrInsufficientHistory, got %v", name, err)
		}
	}
}
