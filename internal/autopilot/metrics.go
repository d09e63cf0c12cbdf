package autopilot

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the engine state to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	orders        *prometheus.CounterVec
	exits         *prometheus.CounterVec
	trades        *prometheus.CounterVec
	brackets      *prometheus.CounterVec
	signals       *prometheus.CounterVec
	balance       prometheus.Gauge
	openPositions prometheus.Gauge
	pendingOrders prometheus.Gauge
	protection    prometheus.Gauge
	breakerOpen   prometheus.Gauge
	tickDuration  prometheus.Histogram
	tickFailures  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_orders_total",
			Help: "Orders placed",
		}, []string{"mode", "side"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_exit_reasons_total",
			Help: "Closed positions split by exit reason",
		}, []string{"reason"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_trades_total",
			Help: "Trades counted by result (open|win|loss|cancelled)",
		}, []string{"result"}),
		brackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_brackets_total",
			Help: "Exchange bracket operations by outcome (placed|failed|rearmed|completed)",
		}, []string{"outcome"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_signals_total",
			Help: "Actionable signals by strength",
		}, []string{"strength"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spot_balance_usdt",
			Help: "Free quote balance",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spot_open_positions",
			Help: "Open positions",
		}),
		pendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spot_pending_orders",
			Help: "Working entry orders",
		}),
		protection: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spot_protection_active",
			Help: "1 while capital protection mode is active",
		}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spot_circuit_breaker_open",
			Help: "1 while the daily loss breaker blocks new entries",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spot_tick_duration_seconds",
			Help:    "Control loop tick duration",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		tickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spot_tick_failures_total",
			Help: "Ticks that panicked or returned an error",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.orders, m.exits, m.trades, m.brackets, m.signals,
			m.balance, m.openPositions, m.pendingOrders, m.protection,
			m.breakerOpen, m.tickDuration, m.tickFailures)
	}
	return m
}

func mode(paper bool) string {
	if paper {
		return "paper"
	}
	return "live"
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (m *Metrics) orderPlaced(paper bool, side string) {
	if m != nil {
		m.orders.WithLabelValues(mode(paper), side).Inc()
	}
}

func (m *Metrics) positionOpened() {
	if m != nil {
		m.trades.WithLabelValues("open").Inc()
	}
}

func (m *Metrics) entryCancelled() {
	if m != nil {
		m.trades.WithLabelValues("cancelled").Inc()
	}
}

func (m *Metrics) positionClosed(reason string, profitUSDT float64) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(reason).Inc()
	result := "win"
	if profitUSDT < 0 {
		result = "loss"
	}
	m.trades.WithLabelValues(result).Inc()
}

func (m *Metrics) bracket(outcome string) {
	if m != nil {
		m.brackets.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) signal(strength string) {
	if m != nil {
		m.signals.WithLabelValues(strength).Inc()
	}
}

func (m *Metrics) setBalance(v float64) {
	if m != nil {
		m.balance.Set(v)
	}
}

func (m *Metrics) setBook(open, pending int) {
	if m != nil {
		m.openPositions.Set(float64(open))
		m.pendingOrders.Set(float64(pending))
	}
}

func (m *Metrics) setGuards(protection, breakerOpen bool) {
	if m != nil {
		m.protection.Set(boolGauge(protection))
		m.breakerOpen.Set(boolGauge(breakerOpen))
	}
}

func (m *Metrics) observeTick(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(seconds)
	if failed {
		m.tickFailures.Inc()
	}
}
