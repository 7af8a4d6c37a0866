package hitbtc

import (
	"log/slog"
	"testing"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

func snapshotMsg(seq string) string {
	return `{"jsonrpc":"2.0","method":"snapshotOrderbook","params":{"symbol":"ETHBTC","sequence":` + seq +
		`,"bid":[{"price":"0.054","size":"1.5"}],"ask":[{"price":"0.055","size":"2.0"}]}}`
}

func updateMsg(seq, side, price, size string) string {
	return `{"jsonrpc":"2.0","method":"updateOrderbook","params":{"symbol":"ETHBTC","sequence":` + seq +
		`,"` + side + `":[{"price":"` + price + `","size":"` + size + `"}]}}`
}

func TestSnapshotEstablishesBaseline(t *testing.T) {
	a := New(slog.Default(), false)
	evs, err := a.Parse("", []byte(snapshotMsg("100")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected bid+ask snapshots, got %d events", len(evs))
	}
	bid := evs[0].(domain.SnapshotEvent)
	if bid.Side != domain.SideBid || bid.Levels[0].Price != 0.054 || bid.Levels[0].Amount != 1.5 {
		t.Fatalf("unexpected bid snapshot: %+v", bid)
	}
}

func TestInSequenceUpdate(t *testing.T) {
	a := New(slog.Default(), false)
	if _, err := a.Parse("", []byte(snapshotMsg("100"))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	evs, err := a.Parse("", []byte(updateMsg("101", "bid", "0.053", "0.7")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 delta, got %d events", len(evs))
	}
	d := evs[0].(domain.DeltaEvent)
	if !d.Absolute || d.Price != 0.053 || d.Amount != 0.7 {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

func TestGapReBaselinesAndContinues(t *testing.T) {
	a := New(slog.Default(), false)
	if _, err := a.Parse("", []byte(snapshotMsg("100"))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// 100 -> 102 skips 101: a gap is reported but the update still
	// applies relative to the new baseline.
	evs, err := a.Parse("", []byte(updateMsg("102", "ask", "0.056", "1.0")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected gap + delta, got %d events", len(evs))
	}
	gap := evs[0].(domain.SequenceGapEvent)
	if gap.Expected != 101 || gap.Got != 102 {
		t.Fatalf("unexpected gap: %+v", gap)
	}
	if _, ok := evs[1].(domain.DeltaEvent); !ok {
		t.Fatalf("expected delta after gap, got %T", evs[1])
	}

	// 103 follows the new baseline without a gap.
	evs, err = a.Parse("", []byte(updateMsg("103", "ask", "0.057", "1.0")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected single delta at re-established baseline, got %d events", len(evs))
	}
}

func TestStrictGapDropsUpdateAndDemandsResubscribe(t *testing.T) {
	a := New(slog.Default(), true)
	a.Subscriptions([]string{"ETHBTC"})
	if _, err := a.Parse("", []byte(snapshotMsg("100"))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	evs, err := a.Parse("", []byte(updateMsg("105", "bid", "0.053", "0.7")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("strict gap must yield only the gap event, got %d events", len(evs))
	}
	if _, ok := evs[0].(domain.SequenceGapEvent); !ok {
		t.Fatalf("expected SequenceGapEvent, got %T", evs[0])
	}

	if reqs := a.ResubscribeRequests("ETHBTC"); len(reqs) != 1 {
		t.Fatalf("strict mode must demand a resubscribe, got %d requests", len(reqs))
	}

	// Baseline invalidated: further updates are dropped until the fresh
	// snapshot arrives.
	evs, err = a.Parse("", []byte(updateMsg("106", "bid", "0.053", "0.7")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 0 {
		t.Fatal("updates after a strict gap must be dropped until a new snapshot")
	}
}

func TestLenientResubscribeIsNil(t *testing.T) {
	a := New(slog.Default(), false)
	if reqs := a.ResubscribeRequests("ETHBTC"); reqs != nil {
		t.Fatal("lenient mode must not demand a resubscribe")
	}
}

func TestUpdateBeforeSnapshotDropped(t *testing.T) {
	a := New(slog.Default(), false)
	evs, err := a.Parse("", []byte(updateMsg("101", "bid", "0.053", "0.7")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 0 {
		t.Fatal("update before the first snapshot must be dropped")
	}
}

func TestZeroSizeRemovesLevel(t *testing.T) {
	a := New(slog.Default(), false)
	if _, err := a.Parse("", []byte(snapshotMsg("100"))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	evs, err := a.Parse("", []byte(updateMsg("101", "bid", "0.054", "0.000")))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := evs[0].(domain.DeltaEvent)
	if d.Count != 0 {
		t.Fatalf("zero size should delete the level, got %+v", d)
	}
}

func TestTrades(t *testing.T) {
	a := New(slog.Default(), false)
	msg := `{"jsonrpc":"2.0","method":"updateTrades","params":{"symbol":"ETHBTC","data":[` +
		`{"id":54469456,"price":"0.054656","quantity":"0.057","side":"buy","timestamp":"2026-08-31T16:33:42.821Z"},` +
		`{"id":54469457,"price":"0.054650","quantity":"0.092","side":"sell","timestamp":"2026-08-31T16:33:43.511Z"}]}}`

	evs, err := a.Parse("", []byte(msg))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(evs))
	}
	buy := evs[0].(domain.TradeEvent)
	sell := evs[1].(domain.TradeEvent)
	if buy.Trade.ID != 54469456 || buy.Trade.Amount != 0.057 {
		t.Fatalf("unexpected buy: %+v", buy.Trade)
	}
	if sell.Trade.Amount != -0.092 {
		t.Fatalf("sell must carry a negative signed amount, got %+v", sell.Trade)
	}
}

func TestSubscribeAckAndLogin(t *testing.T) {
	a := New(slog.Default(), false)
	subs := a.Subscriptions([]string{"ETHBTC"})
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribe commands, got %d", len(subs))
	}

	evs, err := a.Parse("", []byte(`{"jsonrpc":"2.0","result":true,"id":1}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ack := evs[0].(domain.SubscriptionAckEvent)
	if ack.Pair != "ETHBTC" || ack.ChannelType != domain.ChannelBooks {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	evs, err = a.Parse("", []byte(`{"jsonrpc":"2.0","result":true,"id":0}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if auth := evs[0].(domain.AuthEvent); !auth.OK {
		t.Fatal("id 0 result must report successful auth")
	}

	evs, err = a.Parse("", []byte(`{"jsonrpc":"2.0","error":{"code":1002,"message":"Authorization required"},"id":0}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if auth := evs[0].(domain.AuthEvent); auth.OK || auth.Reason == "" {
		t.Fatalf("expected failed auth with reason, got %+v", auth)
	}
}

func TestBadPriceRejected(t *testing.T) {
	a := New(slog.Default(), false)
	if _, err := a.Parse("", []byte(snapshotMsg("100"))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := a.Parse("", []byte(updateMsg("101", "bid", "garbage", "1"))); err == nil {
		t.Fatal("unparseable price must be a protocol violation")
	}
}
