package binance

import (
	"log/slog"
	"testing"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

func TestDepthSnapshot(t *testing.T) {
	a := New(slog.Default())
	raw := `{"lastUpdateId":160,"bids":[["0.0024","14.70"],["0.0023","6.00"]],"asks":[["0.0026","100"]]}`

	evs, err := a.Parse(DepthChannel("BTCUSDT"), []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected bid+ask snapshots, got %d events", len(evs))
	}
	bid := evs[0].(domain.SnapshotEvent)
	ask := evs[1].(domain.SnapshotEvent)
	if bid.Pair != "BTCUSDT" || bid.Side != domain.SideBid || len(bid.Levels) != 2 {
		t.Fatalf("unexpected bid snapshot: %+v", bid)
	}
	if bid.Levels[0].Price != 0.0024 || bid.Levels[0].Amount != 14.70 {
		t.Fatalf("unexpected bid level: %+v", bid.Levels[0])
	}
	if ask.Side != domain.SideAsk || len(ask.Levels) != 1 || ask.Levels[0].Amount != 100 {
		t.Fatalf("unexpected ask snapshot: %+v", ask)
	}
}

func TestZeroQuantityLevelsSkipped(t *testing.T) {
	a := New(slog.Default())
	raw := `{"lastUpdateId":161,"bids":[["0.0024","0.00"]],"asks":[]}`

	evs, err := a.Parse(DepthChannel("BTCUSDT"), []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if bid := evs[0].(domain.SnapshotEvent); len(bid.Levels) != 0 {
		t.Fatalf("zero-quantity levels must be skipped, got %+v", bid.Levels)
	}
}

func TestTradeBatch(t *testing.T) {
	a := New(slog.Default())
	raw := `[{"id":28457,"price":"4.00000100","qty":"12.0","time":1499865549590,"isBuyerMaker":false},` +
		`{"id":28458,"price":"4.00000000","qty":"5.0","time":1499865549700,"isBuyerMaker":true}]`

	evs, err := a.Parse(TradesChannel("BTCUSDT"), []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(evs))
	}
	buy := evs[0].(domain.TradeEvent)
	sell := evs[1].(domain.TradeEvent)
	if buy.Trade.ID != 28457 || buy.Trade.Amount != 12.0 {
		t.Fatalf("unexpected taker buy: %+v", buy.Trade)
	}
	if sell.Trade.Amount != -5.0 {
		t.Fatalf("buyer-maker trade must carry a negative amount, got %+v", sell.Trade)
	}
	if sell.Trade.Timestamp.UnixMilli() != 1499865549700 {
		t.Fatalf("unexpected timestamp: %v", sell.Trade.Timestamp)
	}
}

func TestMissingChannelHintRejected(t *testing.T) {
	a := New(slog.Default())
	for _, hint := range []string{"", "depth:", "klines:BTCUSDT"} {
		if _, err := a.Parse(hint, []byte(`{}`)); err == nil {
			t.Errorf("hint %q must be rejected", hint)
		}
	}
}

func TestMalformedDepthRejected(t *testing.T) {
	a := New(slog.Default())
	if _, err := a.Parse(DepthChannel("BTCUSDT"), []byte(`{"bids":[["bad","1"]]}`)); err == nil {
		t.Fatal("unparseable price must be a protocol violation")
	}
}

func TestEndpoints(t *testing.T) {
	eps := Endpoints("https://api.example.com", "BTCUSDT")
	if len(eps) != 2 {
		t.Fatalf("expected depth+trades endpoints, got %d", len(eps))
	}
	if eps[0].Channel != "depth:BTCUSDT" || eps[1].Channel != "trades:BTCUSDT" {
		t.Fatalf("unexpected channels: %+v", eps)
	}
}
