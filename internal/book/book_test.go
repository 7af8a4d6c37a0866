package book

import (
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestApplyDeltaAccumulates(t *testing.T) {
	b := New("tBTCUSD", testLogger())

	if err := b.ApplyDelta(domain.SideAsk, 100, 1, 5); err != nil {
		t.Fatalf("first delta: %v", err)
	}
	if err := b.ApplyDelta(domain.SideAsk, 100, 1, 3); err != nil {
		t.Fatalf("second delta: %v", err)
	}

	lvls := b.Levels(domain.SideAsk)
	if len(lvls) != 1 {
		t.Fatalf("expected 1 level, got %d", len(lvls))
	}
	got := lvls[0]
	if got.Price != 100 || got.Count != 2 || got.Amount != 8 {
		t.Fatalf("expected {100 2 8}, got %+v", got)
	}

	// count == 0 removes the level entirely.
	if err := b.ApplyDelta(domain.SideAsk, 100, 0, 0); err != nil {
		t.Fatalf("delete delta: %v", err)
	}
	if got := len(b.Levels(domain.SideAsk)); got != 0 {
		t.Fatalf("expected empty side after delete, got %d levels", got)
	}
}

func TestApplyDeltaDeleteAbsentIsNoop(t *testing.T) {
	b := New("tBTCUSD", testLogger())
	if err := b.ApplyDelta(domain.SideBid, 99, 0, 0); err != nil {
		t.Fatalf("delete of absent level should be a no-op, got %v", err)
	}
}

func TestApplyDeltaNegativeCountRejected(t *testing.T) {
	b := New("tBTCUSD", testLogger())
	err := b.ApplyDelta(domain.SideBid, 99, -1, 1)
	if !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
	if got := len(b.Levels(domain.SideBid)); got != 0 {
		t.Fatalf("rejected update must not mutate the book, got %d levels", got)
	}
}

func TestExecutionPriceVolumeWeighted(t *testing.T) {
	b := New("tBTCUSD", testLogger())
	b.ApplySnapshot(domain.SideAsk, []domain.PriceLevel{
		{Price: 100, Count: 1, Amount: 2},
		{Price: 101, Count: 1, Amount: 3},
	})

	q, err := b.ExecutionPrice(domain.SideAsk, 4)
	if err != nil {
		t.Fatalf("ExecutionPrice: %v", err)
	}
	if math.Abs(q.AvgPrice-100.5) > 1e-9 {
		t.Errorf("avg price: expected 100.5, got %v", q.AvgPrice)
	}
	if q.LimitPrice != 101 {
		t.Errorf("limit price: expected 101, got %v", q.LimitPrice)
	}
	if q.MaxVolume != 4 {
		t.Errorf("max volume: expected 4, got %v", q.MaxVolume)
	}
}

func TestExecutionPriceInsufficientDepth(t *testing.T) {
	b := New("tBTCUSD", testLogger())
	b.ApplySnapshot(domain.SideAsk, []domain.PriceLevel{
		{Price: 100, Count: 1, Amount: 2},
	})

	q, err := b.ExecutionPrice(domain.SideAsk, 5)
	if !errors.Is(err, domain.ErrInsufficientDepth) {
		t.Fatalf("expected ErrInsufficientDepth, got %v", err)
	}
	if q.MaxVolume != 2 {
		t.Errorf("max available volume: expected 2, got %v", q.MaxVolume)
	}
}

func TestExecutionPriceInvalidVolume(t *testing.T) {
	b := New("tBTCUSD", testLogger())
	for _, vol := range []float64{0, -1} {
		if _, err := b.ExecutionPrice(domain.SideAsk, vol); !errors.Is(err, domain.ErrInvalidVolume) {
			t.Errorf("volume %v: expected ErrInvalidVolume, got %v", vol, err)
		}
	}
}

func TestExecutionPriceBidsWalkDescending(t *testing.T) {
	b := New("tBTCUSD", testLogger())
	b.ApplySnapshot(domain.SideBid, []domain.PriceLevel{
		{Price: 99, Count: 1, Amount: 10},
		{Price: 100, Count: 1, Amount: 1},
	})

	q, err := b.ExecutionPrice(domain.SideBid, 2)
	if err != nil {
		t.Fatalf("ExecutionPrice: %v", err)
	}
	// 1 unit at 100, 1 unit at 99.
	if math.Abs(q.AvgPrice-99.5) > 1e-9 {
		t.Errorf("avg price: expected 99.5, got %v", q.AvgPrice)
	}
	if q.LimitPrice != 99 {
		t.Errorf("limit price: expected 99, got %v", q.LimitPrice)
	}
}

func TestSnapshotReplacesSide(t *testing.T) {
	b := New("tBTCUSD", testLogger())
	b.ApplySnapshot(domain.SideAsk, []domain.PriceLevel{{Price: 100, Count: 1, Amount: 1}})
	b.ApplySnapshot(domain.SideAsk, []domain.PriceLevel{{Price: 200, Count: 1, Amount: 1}})

	lvls := b.Levels(domain.SideAsk)
	if len(lvls) != 1 || lvls[0].Price != 200 {
		t.Fatalf("snapshot did not replace side wholesale: %+v", lvls)
	}
}

func TestCrossedDetection(t *testing.T) {
	b := New("tBTCUSD", testLogger())
	b.ApplySnapshot(domain.SideBid, []domain.PriceLevel{{Price: 101, Count: 1, Amount: 1}})
	b.ApplySnapshot(domain.SideAsk, []domain.PriceLevel{{Price: 100, Count: 1, Amount: 1}})
	if !b.Crossed() {
		t.Fatal("expected crossed book to be detected")
	}
}
