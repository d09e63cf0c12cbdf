package binance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spot-trading-engine/internal/logging"
)

// DefaultStreamURL is the all-market rolling ticker stream
const DefaultStreamURL = "wss://stream.binance.com:9443/ws/!ticker@arr"

// StreamFeedConfig configures the websocket ticker feed
type StreamFeedConfig struct {
	URL            string
	ReconnectDelay time.Duration
	PingTimeout    time.Duration
	StaleAfter     time.Duration
}

// wsTicker is one element of the !ticker@arr payload. Every key is declared
// because encoding/json falls back to case-insensitive matching, and the
// payload uses pairs such as "e"/"E" and "c"/"C" with different types.
type wsTicker struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	PriceChange  string `json:"p"`
	Percent      string `json:"P"`
	WeightedAvg  string `json:"w"`
	PrevClose    string `json:"x"`
	Last         string `json:"c"`
	LastQty      string `json:"Q"`
	BidPrice     string `json:"b"`
	BidQty       string `json:"B"`
	AskPrice     string `json:"a"`
	AskQty       string `json:"A"`
	Open         string `json:"o"`
	High         string `json:"h"`
	Low          string `json:"l"`
	BaseVolume   string `json:"v"`
	QuoteVolume  string `json:"q"`
	OpenTime     int64  `json:"O"`
	CloseTime    int64  `json:"C"`
	FirstTradeID int64  `json:"F"`
	LastTradeID  int64  `json:"L"`
	TradeCount   int64  `json:"n"`
}

// StreamFeed keeps a live ticker cache from the exchange websocket. It reports
// itself disconnected once no message arrived within StaleAfter.
type StreamFeed struct {
	cfg    StreamFeedConfig
	dialer *websocket.Dialer
	logger *logging.Logger

	mu          sync.RWMutex
	tickers     map[string]Ticker
	connected   bool
	lastMessage time.Time
	reconnects  int
}

// NewStreamFeed creates a feed; call Run to connect
func NewStreamFeed(cfg StreamFeedConfig, logger *logging.Logger) *StreamFeed {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 10 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 60 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &StreamFeed{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		logger:  logger.WithComponent("PriceFeed"),
		tickers: make(map[string]Ticker),
	}
}

// Run connects and reconnects until ctx is cancelled
func (f *StreamFeed) Run(ctx context.Context) error {
	for {
		if err := f.session(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("Price stream disconnected", "error", err, "retry_in", f.cfg.ReconnectDelay)
		}
		f.setConnected(false)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.cfg.ReconnectDelay):
		}

		f.mu.Lock()
		f.reconnects++
		f.mu.Unlock()
	}
}

func (f *StreamFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.PingTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.PingTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	f.logger.Info("Price stream connected", "url", f.cfg.URL)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.PingTimeout))
		f.handleMessage(message)
	}
}

func (f *StreamFeed) handleMessage(message []byte) {
	var batch []wsTicker
	if err := json.Unmarshal(message, &batch); err != nil {
		f.logger.Debug("Ignoring malformed stream message", "error", err)
		return
	}

	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range batch {
		if t.Symbol == "" {
			continue
		}
		f.tickers[t.Symbol] = Ticker{
			Symbol:      t.Symbol,
			Last:        parseFloat(t.Last),
			QuoteVolume: parseFloat(t.QuoteVolume),
			Percentage:  parseFloat(t.Percent),
			UpdatedAt:   now,
		}
	}
	f.connected = true
	f.lastMessage = now
}

func (f *StreamFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// IsConnected reports a live connection with recent data
func (f *StreamFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected && time.Since(f.lastMessage) < f.cfg.StaleAfter
}

// Tickers returns a copy of the cached tickers
func (f *StreamFeed) Tickers() map[string]Ticker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Ticker, len(f.tickers))
	for k, v := range f.tickers {
		out[k] = v
	}
	return out
}

// Ticker returns the cached ticker of one symbol
func (f *StreamFeed) Ticker(symbol string) (Ticker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tickers[symbol]
	return t, ok
}

// Reconnects returns how many times the stream has been re-established
func (f *StreamFeed) Reconnects() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reconnects
}
