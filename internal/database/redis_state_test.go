package database

import (
	"context"
	"testing"
	"time"

	"spot-trading-engine/internal/circuit"
)

func TestRedisStateStoreFallbackProtection(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStateStore(ctx, nil, "", nil)

	if store.IsRedisAvailable() {
		t.Fatal("nil client must not report Redis available")
	}
	state, err := store.LoadProtection(ctx)
	if err != nil || state != nil {
		t.Fatalf("expected no state, got %+v, %v", state, err)
	}

	now := time.Now()
	saved := circuit.ProtectionState{
		Active:      true,
		ActivatedAt: now,
		ExpiresAt:   now.Add(2 * time.Hour),
		Reason:      "BTC dropped -2.00% in 5m",
	}
	if err := store.SaveProtection(ctx, saved); err != nil {
		t.Fatalf("SaveProtection: %v", err)
	}
	got, err := store.LoadProtection(ctx)
	if err != nil || got == nil {
		t.Fatalf("LoadProtection: %+v, %v", got, err)
	}
	if !got.Active || got.Reason != saved.Reason || !got.ExpiresAt.Equal(saved.ExpiresAt) {
		t.Errorf("unexpected state %+v", got)
	}
}

func TestRedisStateStoreFallbackBlocks(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStateStore(ctx, nil, "test", nil)

	_ = store.SaveBlock(ctx, "AUSDT", time.Now().Add(time.Hour))
	_ = store.SaveBlock(ctx, "BUSDT", time.Now().Add(-time.Minute))

	blocks, err := store.LoadBlocks(ctx)
	if err != nil {
		t.Fatalf("LoadBlocks: %v", err)
	}
	if _, ok := blocks["AUSDT"]; !ok {
		t.Error("expected AUSDT blocked")
	}
	if _, ok := blocks["BUSDT"]; ok {
		t.Error("expired block must not load")
	}

	_ = store.DeleteBlock(ctx, "AUSDT")
	blocks, _ = store.LoadBlocks(ctx)
	if len(blocks) != 0 {
		t.Errorf("expected no blocks, got %v", blocks)
	}
}

func TestRedisStateStoreFallbackCooldown(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStateStore(ctx, nil, "", nil)

	if !store.AcquireCooldown(ctx, "signal:AUSDT", time.Minute) {
		t.Fatal("first acquire should succeed")
	}
	if store.AcquireCooldown(ctx, "signal:AUSDT", time.Minute) {
		t.Error("second acquire inside cooldown should fail")
	}
	if !store.AcquireCooldown(ctx, "signal:BUSDT", time.Minute) {
		t.Error("other key should not share the cooldown")
	}
	if !store.AcquireCooldown(ctx, "short", time.Nanosecond) {
		t.Fatal("acquire short")
	}
	time.Sleep(time.Millisecond)
	if !store.AcquireCooldown(ctx, "short", time.Minute) {
		t.Error("expired cooldown should be acquirable")
	}
}
