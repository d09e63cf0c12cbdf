package binance

import "testing"

func TestMarketRoundAmount(t *testing.T) {
	tests := []struct {
		name   string
		step   float64
		amount float64
		want   float64
		str    string
	}{
		{"whole step", 0.01, 10.0, 10.0, "10.00"},
		{"floors", 0.01, 10.0099, 10.0, "10.00"},
		{"fine step", 0.00001, 0.123456789, 0.12345, "0.12345"},
		{"integer step", 1, 57.9, 57, "57"},
		{"no step", 0, 1.123456789, 1.12345678, "1.12345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Market{StepSize: tt.step}
			if got := m.RoundAmount(tt.amount); got != tt.want {
				t.Errorf("RoundAmount(%v) = %v, want %v", tt.amount, got, tt.want)
			}
			if got := m.FormatAmount(tt.amount); got != tt.str {
				t.Errorf("FormatAmount(%v) = %q, want %q", tt.amount, got, tt.str)
			}
		})
	}
}

func TestMarketFormatPrice(t *testing.T) {
	m := &Market{TickSize: 0.01}
	if got := m.FormatPrice(97.5); got != "97.50" {
		t.Errorf("FormatPrice = %q, want 97.50", got)
	}
	if got := m.RoundPrice(106.999); got != 106.99 {
		t.Errorf("RoundPrice = %v, want 106.99", got)
	}
}
