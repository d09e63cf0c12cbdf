package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a lifecycle event streamed to API clients
type EventType string

const (
	EventOrderPlaced       EventType = "ORDER_PLACED"
	EventOrderCancelled    EventType = "ORDER_CANCELLED"
	EventPositionOpened    EventType = "POSITION_OPENED"
	EventPositionClosed    EventType = "POSITION_CLOSED"
	EventStopLossRaised    EventType = "STOP_LOSS_RAISED"
	EventSignalGenerated   EventType = "SIGNAL_GENERATED"
	EventScanCompleted     EventType = "SCAN_COMPLETED"
	EventProtectionChanged EventType = "PROTECTION_CHANGED"
	EventBreakerUpdate     EventType = "CIRCUIT_BREAKER_UPDATE"
	EventBalanceUpdate     EventType = "BALANCE_UPDATE"
	EventBotStarted        EventType = "BOT_STARTED"
	EventBotStopped        EventType = "BOT_STOPPED"
	EventError             EventType = "ERROR"
)

// Event is one published occurrence. Data holds JSON-friendly values only.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles one event. It runs on its own goroutine.
type Subscriber func(Event)

// EventBus fans events out to typed and wildcard subscribers. A nil *EventBus
// drops everything, so components can publish unconditionally.
type EventBus struct {
	mu       sync.RWMutex
	typed    map[EventType][]Subscriber
	wildcard []Subscriber
	panics   atomic.Int64
	onPanic  func(EventType, interface{})
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{typed: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.typed[eventType] = append(eb.typed[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.wildcard = append(eb.wildcard, subscriber)
}

// OnPanic sets a hook called when a subscriber panics
func (eb *EventBus) OnPanic(hook func(EventType, interface{})) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.onPanic = hook
}

// Panics returns how many subscriber calls panicked
func (eb *EventBus) Panics() int64 {
	return eb.panics.Load()
}

// Publish hands event to every matching subscriber without waiting for them
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := make([]Subscriber, 0, len(eb.typed[event.Type])+len(eb.wildcard))
	subs = append(subs, eb.typed[event.Type]...)
	subs = append(subs, eb.wildcard...)
	hook := eb.onPanic
	eb.mu.RUnlock()

	for _, sub := range subs {
		go eb.deliver(sub, event, hook)
	}
}

// deliver keeps a panicking subscriber from taking the process down
func (eb *EventBus) deliver(sub Subscriber, event Event, hook func(EventType, interface{})) {
	defer func() {
		if r := recover(); r != nil {
			eb.panics.Add(1)
			if hook != nil {
				hook(event.Type, r)
			}
		}
	}()
	sub(event)
}

// PublishOrderPlaced publishes an order placed event
func (eb *EventBus) PublishOrderPlaced(orderID, symbol, side string, price, amount float64, paper bool) {
	eb.Publish(Event{
		Type: EventOrderPlaced,
		Data: map[string]interface{}{
			"order_id": orderID,
			"symbol":   symbol,
			"side":     side,
			"price":    price,
			"amount":   amount,
			"paper":    paper,
		},
	})
}

// PublishOrderCancelled publishes an order cancelled event
func (eb *EventBus) PublishOrderCancelled(orderID, symbol, reason string) {
	eb.Publish(Event{
		Type: EventOrderCancelled,
		Data: map[string]interface{}{
			"order_id": orderID,
			"symbol":   symbol,
			"reason":   reason,
		},
	})
}

// PublishPositionOpened publishes a filled entry
func (eb *EventBus) PublishPositionOpened(symbol string, entryPrice, amount, stopLoss, takeProfit float64, bracket bool) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"entry_price": entryPrice,
			"amount":      amount,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
			"bracket":     bracket,
		},
	})
}

// PublishPositionClosed publishes a closed position
func (eb *EventBus) PublishPositionClosed(symbol string, entryPrice, exitPrice, amount, pnl, pnlPercent float64, reason string) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"amount":      amount,
			"pnl":         pnl,
			"pnl_percent": pnlPercent,
			"reason":      reason,
		},
	})
}

// PublishStopLossRaised publishes a dynamic stop adjustment
func (eb *EventBus) PublishStopLossRaised(symbol string, oldStop, newStop float64, rule string) {
	eb.Publish(Event{
		Type: EventStopLossRaised,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"old_stop": oldStop,
			"new_stop": newStop,
			"rule":     rule,
		},
	})
}

// PublishScanCompleted publishes a scan summary
func (eb *EventBus) PublishScanCompleted(scanID string, candidates, signals int, duration time.Duration) {
	eb.Publish(Event{
		Type: EventScanCompleted,
		Data: map[string]interface{}{
			"scan_id":     scanID,
			"candidates":  candidates,
			"signals":     signals,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// PublishProtectionChanged publishes a protection mode transition
func (eb *EventBus) PublishProtectionChanged(active bool, reason string, expiresAt time.Time) {
	data := map[string]interface{}{
		"active": active,
		"reason": reason,
	}
	if !expiresAt.IsZero() {
		data["expires_at"] = expiresAt
	}
	eb.Publish(Event{Type: EventProtectionChanged, Data: data})
}

// PublishBalanceUpdate publishes the latest free quote balance
func (eb *EventBus) PublishBalanceUpdate(balance float64) {
	eb.Publish(Event{
		Type: EventBalanceUpdate,
		Data: map[string]interface{}{"balance": balance},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
