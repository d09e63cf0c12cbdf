package binance

import (
	"github.com/shopspring/decimal"
)

// roundDown floors value to a multiple of step. A non-positive step keeps
// eight decimals, the exchange maximum.
func roundDown(value, step float64) float64 {
	d := decimal.NewFromFloat(value)
	if step <= 0 {
		return d.Truncate(8).InexactFloat64()
	}
	s := decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s).InexactFloat64()
}

func stepPlaces(step float64) int32 {
	if step <= 0 {
		return 8
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

func formatStep(value, step float64) string {
	places := stepPlaces(step)
	return decimal.NewFromFloat(roundDown(value, step)).StringFixed(places)
}

// RoundAmount floors an order quantity to the market lot step
func (m *Market) RoundAmount(amount float64) float64 {
	return roundDown(amount, m.StepSize)
}

// RoundPrice floors a price to the market tick size
func (m *Market) RoundPrice(price float64) float64 {
	return roundDown(price, m.TickSize)
}

// FormatAmount renders a quantity with the precision the exchange accepts
func (m *Market) FormatAmount(amount float64) string {
	return formatStep(amount, m.StepSize)
}

// FormatPrice renders a price with the precision the exchange accepts
func (m *Market) FormatPrice(price float64) string {
	return formatStep(price, m.TickSize)
}
