package database

import (
	"context"
	"os"
	"testing"
	"time"
)

func testRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn, 2, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return NewRepository(db)
}

func TestRepositoryPositionRoundTrip(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	symbol := "TESTRTUSDT"
	t.Cleanup(func() { _ = repo.DeletePosition(ctx, symbol) })

	pos := &Position{
		Symbol:       symbol,
		EntryPrice:   2,
		Amount:       10,
		HighestPrice: 2.05,
		StopLoss:     1.95,
		TakeProfit:   2.14,
		Paper:        true,
		OpenedAt:     time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	pos.StopLoss = 2
	if err := repo.SavePosition(ctx, pos); err != nil {
		t.Fatalf("SavePosition update: %v", err)
	}

	all, err := repo.GetAllPositions(ctx)
	if err != nil {
		t.Fatalf("GetAllPositions: %v", err)
	}
	var found *Position
	for _, p := range all {
		if p.Symbol == symbol {
			found = p
		}
	}
	if found == nil {
		t.Fatal("position not found")
	}
	if found.StopLoss != 2 || found.Amount != 10 || found.OrderListID != nil || !found.Paper {
		t.Errorf("unexpected position %+v", found)
	}
}

func TestRepositoryTradesAndStats(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()
	since := time.Now().Add(-time.Second)

	profit := 1.5
	exit := 2.2
	pct := 10.0
	if err := repo.SaveTrade(ctx, &Trade{
		Symbol: "TESTSTUSDT", Side: SideSell, EntryPrice: 2, ExitPrice: &exit, Amount: 10,
		ProfitPercent: &pct, ProfitUSDT: &profit, Fees: 0.022, Reason: "Take Profit", Paper: true,
	}); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	stats, err := repo.GetDailyStats(ctx, since)
	if err != nil {
		t.Fatalf("GetDailyStats: %v", err)
	}
	if stats.Trades < 1 || stats.Wins < 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
