package strategy

import (
	"fmt"
	"math"
	"time"

	"spot-trading-engine/internal/binance"
)

// Strength is the confidence tier of a buy signal
type Strength string

const (
	StrengthWeak   Strength = "WEAK"
	StrengthMedium Strength = "MEDIUM"
	StrengthStrong Strength = "STRONG"
)

// Rank orders tiers for sorting, STRONG highest
func (s Strength) Rank() int {
	switch s {
	case StrengthStrong:
		return 2
	case StrengthMedium:
		return 1
	default:
		return 0
	}
}

// Actionable reports whether the tier may open a position
func (s Strength) Actionable() bool {
	return s == StrengthStrong || s == StrengthMedium
}

// Snapshot is the indicator state a signal was derived from
type Snapshot struct {
	RSI            float64 `json:"rsi"`
	MACD           float64 `json:"macd"`
	MACDSignal     float64 `json:"macd_signal"`
	MACDCross      bool    `json:"macd_cross"`
	MACDPositive   bool    `json:"macd_positive"`
	SMA50          float64 `json:"sma50"`
	SMA200         float64 `json:"sma200"`
	ATR            float64 `json:"atr"`
	VolumeRatio    float64 `json:"volume_ratio"`
	VolumeSurge    bool    `json:"volume_surge"`
	TrendFollowing bool    `json:"trend_following"`
	AboveLongTrend bool    `json:"above_long_trend"`
	RSIInBuyZone   bool    `json:"rsi_in_buy_zone"`
}

// Signal is a scored buy opportunity; it lives for one scan cycle
type Signal struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Strength    Strength  `json:"strength"`
	Indicators  Snapshot  `json:"indicators"`
	Change24h   float64   `json:"change_24h"`
	QuoteVolume float64   `json:"quote_volume"`
	Timestamp   time.Time `json:"timestamp"`
}

// EvaluatorConfig holds every threshold the evaluator uses
type EvaluatorConfig struct {
	MinCandles        int
	SMAFast           int
	SMASlow           int
	RSIPeriod         int
	RSIBuyMin         float64
	RSIBuyMax         float64
	RSIStrongCeiling  float64
	RSIMediumCeiling  float64
	MACDFast          int
	MACDSlow          int
	MACDSignal        int
	ATRPeriod         int
	VolumeWindow      int
	VolumeSurgeFactor float64
}

// DefaultEvaluatorConfig returns the standard 50/200 SMA, RSI 14, MACD 12/26/9 setup
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		MinCandles:        200,
		SMAFast:           50,
		SMASlow:           200,
		RSIPeriod:         14,
		RSIBuyMin:         30,
		RSIBuyMax:         70,
		RSIStrongCeiling:  65,
		RSIMediumCeiling:  70,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
		ATRPeriod:         14,
		VolumeWindow:      20,
		VolumeSurgeFactor: 1.3,
	}
}

// Evaluator combines indicator outputs into a tiered buy signal
type Evaluator struct {
	cfg EvaluatorConfig
	now func() time.Time
}

// NewEvaluator creates an evaluator
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	if cfg.MinCandles < cfg.SMASlow {
		cfg.MinCandles = cfg.SMASlow
	}
	return &Evaluator{cfg: cfg, now: time.Now}
}

// MinCandles is the history the evaluator needs
func (e *Evaluator) MinCandles() int {
	return e.cfg.MinCandles
}

// Evaluate scores klines for symbol. The ticker price is used when present,
// else the last close. Short history yields nil and ErrInsufficientHistory.
func (e *Evaluator) Evaluate(symbol string, klines []binance.Kline, ticker *binance.Ticker) (*Signal, error) {
	if len(klines) < e.cfg.MinCandles {
		return nil, insufficient("signal "+symbol, len(klines), e.cfg.MinCandles)
	}

	closes := Closes(klines)
	price := closes[len(closes)-1]
	var change, quoteVolume float64
	if ticker != nil {
		if ticker.Last > 0 {
			price = ticker.Last
		}
		change = ticker.Percentage
		quoteVolume = ticker.QuoteVolume
	}

	snap, err := e.snapshot(klines, closes, price)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", symbol, err)
	}

	return &Signal{
		Symbol:      symbol,
		Price:       price,
		Strength:    e.classify(snap),
		Indicators:  snap,
		Change24h:   change,
		QuoteVolume: quoteVolume,
		Timestamp:   e.now(),
	}, nil
}

func (e *Evaluator) snapshot(klines []binance.Kline, closes []float64, price float64) (Snapshot, error) {
	c := e.cfg
	var snap Snapshot

	smaFast, err := SMA(closes, c.SMAFast)
	if err != nil {
		return snap, err
	}
	smaSlow, err := SMA(closes, c.SMASlow)
	if err != nil {
		return snap, err
	}
	rsi, err := RSI(closes, c.RSIPeriod)
	if err != nil {
		return snap, err
	}
	macd, signal, err := MACD(closes, c.MACDFast, c.MACDSlow, c.MACDSignal)
	if err != nil {
		return snap, err
	}
	atr, err := ATR(Highs(klines), Lows(klines), closes, c.ATRPeriod)
	if err != nil {
		return snap, err
	}
	surge, ratio, err := VolumeSurge(Volumes(klines), c.VolumeWindow, c.VolumeSurgeFactor)
	if err != nil {
		return snap, err
	}

	n := len(closes)
	snap.SMA50 = smaFast[n-1]
	snap.SMA200 = smaSlow[n-1]
	snap.RSI = rsi[n-1]
	snap.MACD = macd[n-1]
	snap.MACDSignal = signal[n-1]
	snap.ATR = atr[n-1]
	snap.VolumeRatio = ratio
	snap.VolumeSurge = surge

	snap.MACDPositive = snap.MACD > snap.MACDSignal
	prevMACD, prevSignal := macd[n-2], signal[n-2]
	if !math.IsNaN(prevMACD) && !math.IsNaN(prevSignal) {
		snap.MACDCross = prevMACD <= prevSignal && snap.MACDPositive
	}

	snap.TrendFollowing = price > snap.SMA50
	snap.AboveLongTrend = price > snap.SMA200
	snap.RSIInBuyZone = snap.RSI >= c.RSIBuyMin && snap.RSI < c.RSIBuyMax
	return snap, nil
}

func (e *Evaluator) classify(s Snapshot) Strength {
	if s.TrendFollowing &&
		(s.MACDCross || (s.MACDPositive && s.VolumeSurge)) &&
		s.RSI < e.cfg.RSIStrongCeiling {
		return StrengthStrong
	}
	if (s.MACDPositive || s.VolumeSurge) &&
		s.TrendFollowing &&
		s.RSIInBuyZone &&
		s.RSI < e.cfg.RSIMediumCeiling {
		return StrengthMedium
	}
	return StrengthWeak
}
