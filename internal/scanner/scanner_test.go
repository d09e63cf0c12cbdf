package scanner

import (
	"context"
	"errors"
	"testing"

	"spot-trading-engine/internal/binance"
	"spot-trading-engine/internal/strategy"
)

type stubKlines struct {
	series map[string][]binance.Kline
	errs   map[string]error
	calls  map[string]int
}

func (s *stubKlines) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[symbol]++
	if err := s.errs[symbol]; err != nil {
		return nil, err
	}
	return s.series[symbol], nil
}

func series(step func(i int) float64, n int, surge bool) []binance.Kline {
	klines := make([]binance.Kline, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i > 0 {
			price += step(i)
		}
		vol := 1000.0
		if surge && i >= n-3 {
			vol = 5000
		}
		klines[i] = binance.Kline{Open: price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: vol}
	}
	return klines
}

func uptrend() []binance.Kline {
	return series(func(i int) float64 {
		switch {
		case i >= 217:
			return 1
		case i%2 == 1:
			return 2
		default:
			return -1.8
		}
	}, 220, true)
}

func lastClose(k []binance.Kline) float64 {
	return k[len(k)-1].Close
}

func downtrend() []binance.Kline {
	return series(func(int) float64 { return -0.3 }, 220, false)
}

func TestScanCollectsSignalsAndToleratesFailures(t *testing.T) {
	up, down := uptrend(), downtrend()
	source := &stubKlines{
		series: map[string][]binance.Kline{
			"ETHUSDT": up,
			"XRPUSDT": down,
			"NEWUSDT": up[:50],
		},
		errs: map[string]error{"ADAUSDT": errors.New("timeout")},
	}
	tickers := map[string]binance.Ticker{
		"ETHUSDT": tk("ETHUSDT", lastClose(up), 9, 9e8),
		"XRPUSDT": tk("XRPUSDT", lastClose(down), 8, 9e8),
		"NEWUSDT": tk("NEWUSDT", 1, 7, 9e8),
		"ADAUSDT": tk("ADAUSDT", 1, 6, 9e8),
		"SOLUSDT": tk("SOLUSDT", 1, 5, 9e8),
	}
	cfg := testConfig()
	cfg.HistoryRetryAfter = 0
	sc := NewScanner(source, strategy.NewEvaluator(strategy.DefaultEvaluatorConfig()), cfg, nil)

	signals, err := sc.Scan(context.Background(), tickers, func(s string) bool { return s == "SOLUSDT" })
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 1 || signals[0].Symbol != "ETHUSDT" || signals[0].Strength != strategy.StrengthStrong {
		t.Fatalf("signals = %+v", signals)
	}
	if source.calls["SOLUSDT"] != 0 {
		t.Error("skipped symbol must not be fetched")
	}

	report := sc.LastReport()
	if report == nil {
		t.Fatal("missing report")
	}
	if report.Candidates != 5 || report.Evaluated != 4 || report.Failed != 1 || report.Signals != 1 {
		t.Errorf("report = %+v", report)
	}
	outcomes := map[string]string{}
	for _, o := range report.Outcomes {
		outcomes[o.Symbol] = o.Outcome
	}
	want := map[string]string{
		"ETHUSDT": OutcomeSignal,
		"XRPUSDT": OutcomeWeak,
		"NEWUSDT": OutcomeShortHistory,
		"ADAUSDT": OutcomeError,
		"SOLUSDT": OutcomeSkipped,
	}
	for sym, o := range want {
		if outcomes[sym] != o {
			t.Errorf("%s outcome = %q, want %q", sym, outcomes[sym], o)
		}
	}
}

func TestScanSkipsShortHistoryUntilExpiry(t *testing.T) {
	source := &stubKlines{series: map[string][]binance.Kline{"NEWUSDT": uptrend()[:50]}}
	tickers := map[string]binance.Ticker{"NEWUSDT": tk("NEWUSDT", 1, 7, 9e8)}
	cfg := testConfig()
	cfg.HistoryRetryAfter = 1 << 40
	sc := NewScanner(source, strategy.NewEvaluator(strategy.DefaultEvaluatorConfig()), cfg, nil)

	for i := 0; i < 3; i++ {
		if _, err := sc.Scan(context.Background(), tickers, nil); err != nil {
			t.Fatal(err)
		}
	}
	if source.calls["NEWUSDT"] != 1 {
		t.Errorf("fetches = %d, want 1", source.calls["NEWUSDT"])
	}
}

func TestScanOrdersStrongFirst(t *testing.T) {
	flatVol := series(func(i int) float64 {
		switch {
		case i >= 217:
			return 1
		case i%2 == 1:
			return 2
		default:
			return -1.8
		}
	}, 220, false)
	up := uptrend()
	source := &stubKlines{series: map[string][]binance.Kline{
		"MEDUSDT": flatVol,
		"STRUSDT": up,
	}}
	tickers := map[string]binance.Ticker{
		"MEDUSDT": tk("MEDUSDT", lastClose(flatVol), 20, 9e8),
		"STRUSDT": tk("STRUSDT", lastClose(up), 2, 9e8),
	}
	sc := NewScanner(source, strategy.NewEvaluator(strategy.DefaultEvaluatorConfig()), testConfig(), nil)
	signals, err := sc.Scan(context.Background(), tickers, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 2 || signals[0].Symbol != "STRUSDT" || signals[1].Strength != strategy.StrengthMedium {
		t.Errorf("signals = %+v", signals)
	}
}

func TestScanStopsOnCancel(t *testing.T) {
	source := &stubKlines{series: map[string][]binance.Kline{}}
	tickers := map[string]binance.Ticker{"ETHUSDT": tk("ETHUSDT", 1, 3, 9e8)}
	sc := NewScanner(source, strategy.NewEvaluator(strategy.DefaultEvaluatorConfig()), testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sc.Scan(ctx, tickers, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
