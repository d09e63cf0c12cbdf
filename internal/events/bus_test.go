package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var typed, all []Event

	wg.Add(3)
	bus.Subscribe(EventPositionClosed, func(e Event) {
		mu.Lock()
		typed = append(typed, e)
		mu.Unlock()
		wg.Done()
	})
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		all = append(all, e)
		mu.Unlock()
		wg.Done()
	})

	bus.PublishPositionClosed("AUSDT", 1, 1.07, 10, 0.69, 7, "Take Profit")
	bus.PublishBalanceUpdate(1000)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribers not called")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(typed) != 1 || typed[0].Data["reason"] != "Take Profit" {
		t.Errorf("unexpected typed events %+v", typed)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 events for all-subscriber, got %d", len(all))
	}
	for _, e := range all {
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be set")
		}
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *EventBus
	bus.PublishError("test", "ignored", nil)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewEventBus()

	recovered := make(chan EventType, 1)
	bus.OnPanic(func(et EventType, _ interface{}) { recovered <- et })

	delivered := make(chan struct{}, 1)
	bus.SubscribeAll(func(Event) { panic("boom") })
	bus.SubscribeAll(func(Event) { delivered <- struct{}{} })

	bus.PublishBalanceUpdate(100)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber not called")
	}
	select {
	case et := <-recovered:
		if et != EventBalanceUpdate {
			t.Errorf("panic hook type = %s", et)
		}
	case <-time.After(time.Second):
		t.Fatal("panic hook not called")
	}
	if bus.Panics() != 1 {
		t.Errorf("Panics = %d, want 1", bus.Panics())
	}
}
