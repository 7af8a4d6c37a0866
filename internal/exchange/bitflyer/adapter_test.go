package bitflyer

import (
	"log/slog"
	"testing"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

func snapshotMsg(pair string) string {
	return `{"jsonrpc":"2.0","method":"channelMessage","params":{"channel":"lightning_board_snapshot_` +
		pair + `","message":{"mid_price":1000000,"bids":[{"price":999000,"size":0.5}],"asks":[{"price":1001000,"size":0.2}]}}}`
}

func TestSnapshotReplacesAndBaselines(t *testing.T) {
	a := New(slog.Default())
	evs, err := a.Parse("", []byte(snapshotMsg("BTC_JPY")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected bid+ask snapshots, got %d events", len(evs))
	}
	bid := evs[0].(domain.SnapshotEvent)
	if bid.Side != domain.SideBid || len(bid.Levels) != 1 || bid.Levels[0].Price != 999000 {
		t.Fatalf("unexpected bid snapshot: %+v", bid)
	}
	ask := evs[1].(domain.SnapshotEvent)
	if ask.Side != domain.SideAsk || ask.Levels[0].Amount != 0.2 {
		t.Fatalf("unexpected ask snapshot: %+v", ask)
	}
}

func TestDeltaBeforeSnapshotDropped(t *testing.T) {
	a := New(slog.Default())
	delta := `{"jsonrpc":"2.0","method":"channelMessage","params":{"channel":"lightning_board_BTC_JPY","message":{"bids":[{"price":999000,"size":1}],"asks":[]}}}`

	evs, err := a.Parse("", []byte(delta))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("delta before snapshot must be dropped, got %d events", len(evs))
	}

	if _, err := a.Parse("", []byte(snapshotMsg("BTC_JPY"))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	evs, err = a.Parse("", []byte(delta))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 delta after snapshot, got %d", len(evs))
	}
	d := evs[0].(domain.DeltaEvent)
	if !d.Absolute || d.Side != domain.SideBid || d.Amount != 1 {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

func TestZeroSizeDeltaRemovesLevel(t *testing.T) {
	a := New(slog.Default())
	if _, err := a.Parse("", []byte(snapshotMsg("BTC_JPY"))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	delta := `{"jsonrpc":"2.0","method":"channelMessage","params":{"channel":"lightning_board_BTC_JPY","message":{"bids":[{"price":999000,"size":0}],"asks":[]}}}`
	evs, err := a.Parse("", []byte(delta))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := evs[0].(domain.DeltaEvent)
	if d.Count != 0 || d.Amount != 0 {
		t.Fatalf("zero size should delete the level, got %+v", d)
	}
}

func TestBaselinePerPair(t *testing.T) {
	a := New(slog.Default())
	if _, err := a.Parse("", []byte(snapshotMsg("BTC_JPY"))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	delta := `{"jsonrpc":"2.0","method":"channelMessage","params":{"channel":"lightning_board_ETH_JPY","message":{"bids":[{"price":500000,"size":1}],"asks":[]}}}`
	evs, err := a.Parse("", []byte(delta))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 0 {
		t.Fatal("snapshot for one pair must not baseline another")
	}
}

func TestExecutions(t *testing.T) {
	a := New(slog.Default())
	msg := `{"jsonrpc":"2.0","method":"channelMessage","params":{"channel":"lightning_executions_BTC_JPY","message":[` +
		`{"id":101,"side":"BUY","price":1000000,"size":0.1,"exec_date":"2026-08-31T09:00:00.123Z"},` +
		`{"id":102,"side":"SELL","price":999500,"size":0.3,"exec_date":"2026-08-31T09:00:01.456Z"}]}}`

	evs, err := a.Parse("", []byte(msg))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(evs))
	}
	buy := evs[0].(domain.TradeEvent)
	sell := evs[1].(domain.TradeEvent)
	if buy.Trade.ID != 101 || buy.Trade.Amount != 0.1 {
		t.Fatalf("unexpected buy: %+v", buy.Trade)
	}
	if sell.Trade.Amount != -0.3 {
		t.Fatalf("sell must carry a negative signed amount, got %+v", sell.Trade)
	}
}

func TestSubscribeResultAck(t *testing.T) {
	a := New(slog.Default())
	subs := a.Subscriptions([]string{"BTC_JPY"})
	if len(subs) != 3 {
		t.Fatalf("expected 3 subscribe commands, got %d", len(subs))
	}

	evs, err := a.Parse("", []byte(`{"jsonrpc":"2.0","id":1,"result":true}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ack, ok := evs[0].(domain.SubscriptionAckEvent)
	if !ok || ack.Pair != "BTC_JPY" || ack.ChannelType != domain.ChannelBooks {
		t.Fatalf("unexpected ack: %#v", evs[0])
	}
}

func TestRejectedSubscribe(t *testing.T) {
	a := New(slog.Default())
	a.Subscriptions([]string{"BTC_JPY"})
	if _, err := a.Parse("", []byte(`{"jsonrpc":"2.0","id":1,"result":false}`)); err == nil {
		t.Fatal("rejected subscribe must be a protocol violation")
	}
}

func TestMalformedMessage(t *testing.T) {
	a := New(slog.Default())
	if _, err := a.Parse("", []byte(`not json`)); err == nil {
		t.Fatal("malformed message must be rejected")
	}
}
