package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu   sync.Mutex
	got  []*Notification
	err  error
	wait chan struct{}
}

func (r *recordingNotifier) Name() string    { return "recording" }
func (r *recordingNotifier) IsEnabled() bool { return true }

func (r *recordingNotifier) Send(ctx context.Context, n *Notification) error {
	if r.wait != nil {
		<-r.wait
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) messages() []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Notification(nil), r.got...)
}

func flush(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestManagerDelivers(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(Config{Enabled: true}, nil, nil)
	m.AddNotifier(rec)

	m.Send("hello")
	m.SendTradeClose("AUSDT", 1, 0.975, -0.26, -2.5, "Stop Loss", true)
	flush(t, m)

	got := rec.messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].Message != "hello" || got[0].Type != NotifyInfo {
		t.Errorf("unexpected first notification %+v", got[0])
	}
	if got[1].Type != NotifyTradeClose || got[1].PnL >= 0 {
		t.Errorf("unexpected close notification %+v", got[1])
	}
	if got[1].Title != "[PAPER] Position closed: AUSDT" {
		t.Errorf("Title = %q", got[1].Title)
	}
}

func TestManagerDisabled(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(Config{Enabled: false}, nil, nil)
	m.AddNotifier(rec)
	m.Send("ignored")
	flush(t, m)
	if n := len(rec.messages()); n != 0 {
		t.Errorf("expected nothing delivered, got %d", n)
	}
}

func TestManagerProviderErrorDoesNotStop(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("boom")}
	m := NewManager(Config{Enabled: true}, nil, nil)
	m.AddNotifier(rec)
	m.Send("one")
	m.Send("two")
	flush(t, m)
	if n := len(rec.messages()); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestSendWithCooldown(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(Config{Enabled: true, Cooldown: time.Hour}, nil, nil)
	m.AddNotifier(rec)

	if !m.SendWithCooldown("AUSDT", "signal", "signal") {
		t.Fatal("first message should be queued")
	}
	if m.SendWithCooldown("AUSDT", "signal again", "signal") {
		t.Error("second message inside cooldown should be suppressed")
	}
	if !m.SendWithCooldown("AUSDT", "min notional", "min_notional") {
		t.Error("other category should not share the cooldown")
	}
	flush(t, m)
	if n := len(rec.messages()); n != 2 {
		t.Errorf("expected 2 delivered, got %d", n)
	}
}

type denyCooldown struct{}

func (denyCooldown) AcquireCooldown(ctx context.Context, key string, ttl time.Duration) bool {
	return false
}

func TestSendWithCooldownStore(t *testing.T) {
	m := NewManager(Config{Enabled: true}, denyCooldown{}, nil)
	if m.SendWithCooldown("AUSDT", "x", "signal") {
		t.Error("store denial should suppress the message")
	}
}

func TestQueueFullDrops(t *testing.T) {
	rec := &recordingNotifier{wait: make(chan struct{})}
	m := NewManager(Config{Enabled: true, QueueSize: 1}, nil, nil)
	m.AddNotifier(rec)

	for i := 0; i < 5; i++ {
		m.Send("x")
	}
	close(rec.wait)
	flush(t, m)

	_, dropped := m.Stats()
	if dropped == 0 {
		t.Error("expected drops with a full queue")
	}
}

func TestCloseStopsAccepting(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(Config{Enabled: true}, nil, nil)
	m.AddNotifier(rec)
	m.Send("before")
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	m.Send("after")
	if n := len(rec.messages()); n != 1 {
		t.Errorf("expected 1 delivered, got %d", n)
	}
}

func TestDiscordNotifier(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL, Enabled: true})
	err := d.Send(context.Background(), &Notification{
		Type:      NotifyTradeClose,
		Title:     "Position closed: AUSDT",
		Message:   "Reason: Stop Loss",
		Symbol:    "AUSDT",
		PnL:       -1,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	embeds, ok := payload["embeds"].([]interface{})
	if !ok || len(embeds) != 1 {
		t.Fatalf("unexpected payload %v", payload)
	}
	embed := embeds[0].(map[string]interface{})
	if embed["color"].(float64) != 0xFF0000 {
		t.Errorf("loss should be red, got %v", embed["color"])
	}
}

func TestDiscordNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL, Enabled: true})
	if err := d.Send(context.Background(), &Notification{Message: "x"}); err == nil {
		t.Error("expected error on 429")
	}
}

func TestTelegramDisabledWithoutToken(t *testing.T) {
	tg, err := NewTelegramNotifier(TelegramConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewTelegramNotifier: %v", err)
	}
	if tg.IsEnabled() {
		t.Error("notifier without token must be disabled")
	}
	if err := tg.Send(context.Background(), &Notification{Message: "x"}); err != nil {
		t.Errorf("disabled Send should be a no-op, got %v", err)
	}
}
