package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"spot-trading-engine/internal/logging"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifySignal     NotificationType = "signal"
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyProtection NotificationType = "protection"
	NotifyReport     NotificationType = "report"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	PnL       float64
	Timestamp time.Time
}

// Text renders the notification as plain text
func (n *Notification) Text() string {
	if n.Title == "" {
		return n.Message
	}
	return n.Title + "\n\n" + n.Message
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
	Name() string
	IsEnabled() bool
}

// CooldownStore starts per-key cooldowns; RedisStateStore implements it
type CooldownStore interface {
	AcquireCooldown(ctx context.Context, key string, ttl time.Duration) bool
}

// Config configures the manager
type Config struct {
	Enabled     bool
	QueueSize   int
	SendTimeout time.Duration
	Cooldown    time.Duration // default cooldown of SendWithCooldown
}

// Manager fans notifications out to every enabled provider from a single
// background worker. Sending never blocks the caller; a full queue drops.
type Manager struct {
	cfg       Config
	notifiers []Notifier
	cooldowns CooldownStore
	logger    *logging.Logger

	queue   chan *Notification
	pending sync.WaitGroup
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	lastSent  map[string]time.Time
	dropped   int
	delivered int
}

// NewManager creates a notification manager and starts its worker
func NewManager(cfg Config, cooldowns CooldownStore, logger *logging.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		cfg:       cfg,
		cooldowns: cooldowns,
		logger:    logger.WithComponent("Notification"),
		queue:     make(chan *Notification, cfg.QueueSize),
		done:      make(chan struct{}),
		lastSent:  make(map[string]time.Time),
	}
	go m.run()
	return m
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
	m.logger.Info("Notifier registered", "provider", n.Name(), "enabled", n.IsEnabled())
}

func (m *Manager) providers() []Notifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notifier, len(m.notifiers))
	copy(out, m.notifiers)
	return out
}

func (m *Manager) run() {
	defer close(m.done)
	for n := range m.queue {
		m.deliver(n)
		m.pending.Done()
	}
}

func (m *Manager) deliver(n *Notification) {
	for _, p := range m.providers() {
		if !p.IsEnabled() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout)
		err := p.Send(ctx, n)
		cancel()
		if err != nil {
			m.logger.Warn("Notification failed", "provider", p.Name(), "type", n.Type, "error", err)
			continue
		}
		m.mu.Lock()
		m.delivered++
		m.mu.Unlock()
	}
}

// Publish queues a notification
func (m *Manager) Publish(n *Notification) {
	if !m.cfg.Enabled {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending.Add(1)
	select {
	case m.queue <- n:
	default:
		m.pending.Done()
		m.dropped++
		m.logger.Warn("Notification queue full, dropping message", "type", n.Type)
	}
}

// Send queues a plain informational message
func (m *Manager) Send(text string) {
	m.Publish(&Notification{Type: NotifyInfo, Message: text})
}

// SendWithCooldown queues text unless a message with the same symbol and
// category went out within the cooldown. It reports whether it was queued.
func (m *Manager) SendWithCooldown(symbol, text, category string) bool {
	key := category + ":" + symbol
	if m.cooldowns != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok := m.cooldowns.AcquireCooldown(ctx, key, m.cfg.Cooldown)
		cancel()
		if !ok {
			return false
		}
	} else {
		now := time.Now()
		m.mu.Lock()
		if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cfg.Cooldown {
			m.mu.Unlock()
			return false
		}
		m.lastSent[key] = now
		m.mu.Unlock()
	}
	m.Publish(&Notification{Type: NotificationType(category), Symbol: symbol, Message: text})
	return true
}

// SendTradeOpen announces a filled entry
func (m *Manager) SendTradeOpen(symbol string, price, amount, stopLoss, takeProfit float64, paper bool) {
	m.Publish(&Notification{
		Type:   NotifyTradeOpen,
		Title:  fmt.Sprintf("%sPosition opened: %s", paperTag(paper), symbol),
		Symbol: symbol,
		Message: fmt.Sprintf("Entry: %.6f\nAmount: %.6f\nSL: %.6f | TP: %.6f",
			price, amount, stopLoss, takeProfit),
	})
}

// SendTradeClose announces a closed position
func (m *Manager) SendTradeClose(symbol string, entry, exit, pnl, pnlPercent float64, reason string, paper bool) {
	m.Publish(&Notification{
		Type:   NotifyTradeClose,
		Title:  fmt.Sprintf("%sPosition closed: %s", paperTag(paper), symbol),
		Symbol: symbol,
		PnL:    pnl,
		Message: fmt.Sprintf("Entry: %.6f -> Exit: %.6f\nP&L: %.4f USDT (%.2f%%)\nReason: %s",
			entry, exit, pnl, pnlPercent, reason),
	})
}

// SendError sends an error notification
func (m *Manager) SendError(title, message string) {
	m.Publish(&Notification{Type: NotifyError, Title: "Error: " + title, Message: message})
}

func paperTag(paper bool) string {
	if paper {
		return "[PAPER] "
	}
	return ""
}

// Flush waits until every queued notification was handled or ctx ends
func (m *Manager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the worker
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivery counters
func (m *Manager) Stats() (delivered, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered, m.dropped
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-3]) + "..."
}
