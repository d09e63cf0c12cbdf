package strategy

import (
	"errors"
	"fmt"
	"math"

	"spot-trading-engine/internal/binance"
)

// ErrInsufficientHistory is returned when a series is shorter than an
// indicator's warm-up. Callers skip the candidate rather than retry.
var ErrInsufficientHistory = errors.New("insufficient history")

func insufficient(name string, have, need int) error {
	return fmt.Errorf("%s: have %d samples, need %d: %w", name, have, need, ErrInsufficientHistory)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Last returns the final value of a series, NaN when empty
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// ============================================================================
// SERIES EXTRACTION
// ============================================================================

// Closes returns the close prices of klines
func Closes(klines []binance.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// Highs returns the high prices of klines
func Highs(klines []binance.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.High
	}
	return out
}

// Lows returns the low prices of klines
func Lows(klines []binance.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Low
	}
	return out
}

// Volumes returns the base volumes of klines
func Volumes(klines []binance.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Volume
	}
	return out
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA computes the simple moving average. The first window-1 entries are NaN.
func SMA(values []float64, window int) ([]float64, error) {
	if window <= 0 || len(values) < window {
		return nil, insufficient("sma", len(values), window)
	}

	out := nanSeries(len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out, nil
}

// EMA computes the exponential moving average seeded with the SMA of the
// first window samples.
func EMA(values []float64, window int) ([]float64, error) {
	if window <= 0 || len(values) < window {
		return nil, insufficient("ema", len(values), window)
	}

	out := nanSeries(len(values))
	seed := 0.0
	for i := 0; i < window; i++ {
		seed += values[i]
	}
	out[window-1] = seed / float64(window)

	k := 2.0 / float64(window+1)
	for i := window; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out, nil
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// RSI computes the Wilder-smoothed relative strength index. The first defined
// value is at index window.
func RSI(closes []float64, window int) ([]float64, error) {
	if window <= 0 || len(closes) < window+1 {
		return nil, insufficient("rsi", len(closes), window+1)
	}

	out := nanSeries(len(closes))
	gain, loss := 0.0, 0.0
	for i := 1; i <= window; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(window)
	avgLoss := loss / float64(window)
	out[window] = rsiValue(avgGain, avgLoss)

	w := float64(window)
	for i := window + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*(w-1) + g) / w
		avgLoss = (avgLoss*(w-1) + l) / w
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACD returns the MACD line (fast EMA minus slow EMA) and its signal line.
// The MACD line is defined from index slow-1, the signal from slow+signal-2.
func MACD(closes []float64, fast, slow, signal int) (macdLine, signalLine []float64, err error) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return nil, nil, fmt.Errorf("macd: invalid periods %d/%d/%d", fast, slow, signal)
	}
	if need := slow + signal - 1; len(closes) < need {
		return nil, nil, insufficient("macd", len(closes), need)
	}

	fastEMA, err := EMA(closes, fast)
	if err != nil {
		return nil, nil, err
	}
	slowEMA, err := EMA(closes, slow)
	if err != nil {
		return nil, nil, err
	}

	macdLine = nanSeries(len(closes))
	for i := slow - 1; i < len(closes); i++ {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}

	sig, err := EMA(macdLine[slow-1:], signal)
	if err != nil {
		return nil, nil, err
	}
	signalLine = nanSeries(len(closes))
	copy(signalLine[slow-1:], sig)
	return macdLine, signalLine, nil
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// ATR computes the Wilder-smoothed average true range. The first value, at
// index window-1, is the plain mean of the first window true ranges.
func ATR(highs, lows, closes []float64, window int) ([]float64, error) {
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil, fmt.Errorf("atr: series length mismatch %d/%d/%d", len(highs), len(lows), len(closes))
	}
	if window <= 0 || len(closes) < window {
		return nil, insufficient("atr", len(closes), window)
	}

	tr := make([]float64, len(closes))
	tr[0] = highs[0] - lows[0]
	for i := 1; i < len(closes); i++ {
		prevClose := closes[i-1]
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-prevClose), math.Abs(lows[i]-prevClose)))
	}

	out := nanSeries(len(closes))
	sum := 0.0
	for i := 0; i < window; i++ {
		sum += tr[i]
	}
	out[window-1] = sum / float64(window)

	w := float64(window)
	for i := window; i < len(closes); i++ {
		out[i] = (out[i-1]*(w-1) + tr[i]) / w
	}
	return out, nil
}

// ============================================================================
// VOLUME
// ============================================================================

// VolumeSurge reports whether the latest volume exceeds factor times the
// average of the trailing window, the latest sample included.
func VolumeSurge(volumes []float64, window int, factor float64) (bool, float64, error) {
	if window <= 0 || len(volumes) < window {
		return false, 0, insufficient("volume", len(volumes), window)
	}

	sum := 0.0
	for _, v := range volumes[len(volumes)-window:] {
		sum += v
	}
	avg := sum / float64(window)
	if avg <= 0 {
		return false, 0, nil
	}
	ratio := volumes[len(volumes)-1] / avg
	return ratio > factor, ratio, nil
}
