package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const tickerPayload = `[
 {"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","p":"-544.10","P":"-1.25","w":"43210.55","x":"43544.20",
  "c":"43000.10","Q":"0.01200","b":"43000.00","B":"1.5","a":"43000.20","A":"0.8","o":"43544.20","h":"44100.00",
  "l":"42800.00","v":"22000.1","q":"950000000.0","O":1699913600000,"C":1700000000000,"F":3200000000,"L":3201000000,"n":1000001},
 {"e":"24hrTicker","E":1700000000000,"s":"ETHUSDT","p":"56.10","P":"2.50","w":"2280.00","x":"2243.90",
  "c":"2300.00","Q":"0.5","b":"2299.90","B":"10","a":"2300.10","A":"4","o":"2243.90","h":"2310.00",
  "l":"2230.00","v":"175000","q":"400000000.0","O":1699913600000,"C":1700000000000,"F":1400000000,"L":1400500000,"n":500001}
]`

func tickerServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStreamFeedReceivesTickers(t *testing.T) {
	srv := tickerServer(t, tickerPayload)
	defer srv.Close()

	feed := NewStreamFeed(StreamFeedConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 50 * time.Millisecond,
		StaleAfter:     time.Second,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = feed.Run(ctx)
		close(done)
	}()

	waitFor(t, feed.IsConnected)

	btc, ok := feed.Ticker("BTCUSDT")
	if !ok {
		t.Fatal("BTCUSDT missing from feed")
	}
	if btc.Last != 43000.10 || btc.Percentage != -1.25 {
		t.Errorf("unexpected ticker %+v", btc)
	}
	if len(feed.Tickers()) != 2 {
		t.Errorf("tickers = %d, want 2", len(feed.Tickers()))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if feed.IsConnected() {
		t.Error("feed should report disconnected after shutdown")
	}
}

func TestStreamFeedGoesStale(t *testing.T) {
	feed := NewStreamFeed(StreamFeedConfig{StaleAfter: 20 * time.Millisecond}, nil)
	feed.handleMessage([]byte(tickerPayload))
	if !feed.IsConnected() {
		t.Fatal("fresh data should count as connected")
	}
	time.Sleep(40 * time.Millisecond)
	if feed.IsConnected() {
		t.Error("feed should be stale")
	}
}

func TestStreamFeedDecodesFullTicker(t *testing.T) {
	feed := NewStreamFeed(StreamFeedConfig{}, nil)
	feed.handleMessage([]byte(tickerPayload))

	eth, ok := feed.Ticker("ETHUSDT")
	if !ok {
		t.Fatal("ETHUSDT missing from feed")
	}
	if eth.Last != 2300 || eth.Percentage != 2.5 || eth.QuoteVolume != 400000000 {
		t.Errorf("unexpected ticker %+v", eth)
	}
	if !feed.IsConnected() {
		t.Error("full ticker payload should mark the feed connected")
	}
}

func TestStreamFeedIgnoresMalformed(t *testing.T) {
	feed := NewStreamFeed(StreamFeedConfig{}, nil)
	feed.handleMessage([]byte(`{"result":null,"id":1}`))
	if feed.IsConnected() || len(feed.Tickers()) != 0 {
		t.Error("malformed message should not update the feed")
	}
}
