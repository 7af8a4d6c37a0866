package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mbehr1/cryptotrader/internal/domain"
	"github.com/mbehr1/cryptotrader/internal/sched"
	"github.com/mbehr1/cryptotrader/internal/settings/mem"
)

type recordingNotifier struct {
	mu          sync.Mutex
	completions []domain.OrderCompletion
}

func (n *recordingNotifier) OrderCompleted(c domain.OrderCompletion) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completions = append(n.completions, c)
}

func (n *recordingNotifier) all() []domain.OrderCompletion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.OrderCompletion(nil), n.completions...)
}

type fakeSubmitter struct {
	sent []domain.PendingOrder
	err  error
}

func (s *fakeSubmitter) SendOrder(o domain.PendingOrder) error {
	s.sent = append(s.sent, o)
	return s.err
}

func newTestReconciler(t *testing.T, cfg Config) (*Reconciler, *mem.Store, *recordingNotifier) {
	t.Helper()
	if cfg.Exchange == "" {
		cfg.Exchange = "testex"
	}
	store := mem.New()
	s := sched.New(slog.Default())
	t.Cleanup(s.Close)
	notifier := &recordingNotifier{}
	r, err := New(cfg, store, s, notifier, nil, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, store, notifier
}

func TestSubmitPersistsBeforeSend(t *testing.T) {
	r, store, _ := newTestReconciler(t, Config{})
	sub := &fakeSubmitter{}

	cid, err := r.Submit(context.Background(), sub, "BTCUSD", 1.0, 50000)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if cid != clientIDFloor {
		t.Fatalf("first client id should be the floor %d, got %d", clientIDFloor, cid)
	}
	if len(sub.sent) != 1 || sub.sent[0].ClientOrderID != cid {
		t.Fatalf("order not sent: %+v", sub.sent)
	}

	raw, err := store.GetString(context.Background(), "pending_orders:testex")
	if err != nil {
		t.Fatalf("pending set not persisted: %v", err)
	}
	if raw == "[]" {
		t.Fatal("persisted pending set is empty")
	}
	if last, _ := store.GetInt64(context.Background(), "last_client_order_id:testex"); last != cid {
		t.Fatalf("last client id not persisted, got %d", last)
	}
}

func TestClientIDWrapsToFloor(t *testing.T) {
	r, store, _ := newTestReconciler(t, Config{})

	r.mu.Lock()
	store.SetInt64(context.Background(), "last_client_order_id:testex", -5)
	cid, err := r.nextClientIDLocked(context.Background())
	r.mu.Unlock()
	if err != nil {
		t.Fatalf("nextClientIDLocked: %v", err)
	}
	if cid != clientIDFloor {
		t.Fatalf("non-positive successor must wrap to %d, got %d", clientIDFloor, cid)
	}
}

func TestExactlyOnceCompletion(t *testing.T) {
	r, _, notifier := newTestReconciler(t, Config{})
	sub := &fakeSubmitter{}
	ctx := context.Background()

	cid, _ := r.Submit(ctx, sub, "BTCUSD", 1.0, 50000)
	r.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, ExchangeOrderID: "ex-1", Pair: "BTCUSD",
		Amount: 1.0, Price: 50000, Status: domain.OrderStatusActive,
	})

	fill := domain.FillEvent{
		ExchangeOrderID: "ex-1", Pair: "BTCUSD",
		Amount: 1.0, Price: 50000, Fee: 25, FeeCurrency: "USD",
	}
	r.HandleFill(ctx, fill)
	r.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, ExchangeOrderID: "ex-1", Pair: "BTCUSD",
		Amount: 1.0, Price: 50000, Status: domain.OrderStatusComplete,
	})

	got := notifier.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(got))
	}
	c := got[0]
	if c.ClientOrderID != cid || c.Fee != 25 || c.FeeCurrency != "USD" || c.FeeEstimated {
		t.Fatalf("unexpected completion: %+v", c)
	}

	// A duplicate identical fill after emission produces nothing more.
	r.HandleFill(ctx, fill)
	if len(notifier.all()) != 1 {
		t.Fatal("duplicate fill after emission must not re-notify")
	}
	if len(r.Pending()) != 0 {
		t.Fatal("completed order must leave the pending set")
	}
}

func TestFillsBeforeTerminalStatus(t *testing.T) {
	r, _, notifier := newTestReconciler(t, Config{})
	ctx := context.Background()

	cid, _ := r.Submit(ctx, &fakeSubmitter{}, "BTCUSD", 2.0, 100)
	r.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, ExchangeOrderID: "ex-2",
		Amount: 2.0, Price: 100, Status: domain.OrderStatusPartiallyFilled,
	})
	r.HandleFill(ctx, domain.FillEvent{ExchangeOrderID: "ex-2", Amount: 1.2, Fee: 0.1, FeeCurrency: "USD"})
	r.HandleFill(ctx, domain.FillEvent{ExchangeOrderID: "ex-2", Amount: 0.8, Fee: 0.1, FeeCurrency: "USD"})
	if len(notifier.all()) != 0 {
		t.Fatal("no completion before a terminal status")
	}

	r.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, Amount: 2.0, Price: 100, Status: domain.OrderStatusComplete,
	})
	got := notifier.all()
	if len(got) != 1 {
		t.Fatalf("expected completion once coverage and status meet, got %d", len(got))
	}
	if got[0].Fee != 0.2 {
		t.Fatalf("fees must accumulate across fills, got %v", got[0].Fee)
	}
}

func TestGraceTimeoutSubstitutesEstimate(t *testing.T) {
	r, _, notifier := newTestReconciler(t, Config{FeeGrace: 30 * time.Millisecond, FeeRate: 0.002})
	ctx := context.Background()

	cid, _ := r.Submit(ctx, &fakeSubmitter{}, "BTCUSD", 1.0, 50000)
	r.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, ExchangeOrderID: "ex-3",
		Amount: 1.0, Price: 50000, Status: domain.OrderStatusComplete,
	})
	if len(notifier.all()) != 0 {
		t.Fatal("completion must wait for fee coverage or the grace timeout")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(notifier.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := notifier.all()
	if len(got) != 1 {
		t.Fatal("grace timeout must emit the completion")
	}
	c := got[0]
	if !c.FeeEstimated {
		t.Fatal("grace completion must be flagged as estimated")
	}
	want := 1.0 * 50000 * 0.002
	if c.Fee != want {
		t.Fatalf("expected nominal fee %v, got %v", want, c.Fee)
	}
}

func TestRejectionIsZeroAmountCompletion(t *testing.T) {
	r, _, notifier := newTestReconciler(t, Config{})
	ctx := context.Background()

	cid, _ := r.Submit(ctx, &fakeSubmitter{}, "BTCUSD", 1.0, 50000)
	r.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, Amount: 1.0, Price: 50000,
		Status: domain.OrderStatusRejected, Reason: "insufficient balance",
	})

	got := notifier.all()
	if len(got) != 1 {
		t.Fatalf("expected one completion, got %d", len(got))
	}
	c := got[0]
	if c.Amount != 0 || c.Status != domain.OrderStatusRejected || c.Reason != "insufficient balance" {
		t.Fatalf("unexpected rejection completion: %+v", c)
	}
	if len(r.Pending()) != 0 {
		t.Fatal("rejected order must leave the pending set")
	}
}

func TestFeeCurrencyMismatchKeepsRegistered(t *testing.T) {
	r, _, notifier := newTestReconciler(t, Config{})
	ctx := context.Background()

	cid, _ := r.Submit(ctx, &fakeSubmitter{}, "BTCUSD", 1.0, 100)
	r.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, ExchangeOrderID: "ex-4",
		Amount: 1.0, Price: 100, Status: domain.OrderStatusActive,
	})
	r.HandleFill(ctx, domain.FillEvent{ExchangeOrderID: "ex-4", Amount: 0.5, Fee: 0.1, FeeCurrency: "USD"})
	r.HandleFill(ctx, domain.FillEvent{ExchangeOrderID: "ex-4", Amount: 0.5, Fee: 0.1, FeeCurrency: "BTC"})
	r.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, Status: domain.OrderStatusComplete,
	})

	got := notifier.all()
	if len(got) != 1 {
		t.Fatalf("expected one completion, got %d", len(got))
	}
	if got[0].FeeCurrency != "USD" {
		t.Fatalf("registered fee currency must not be overwritten, got %s", got[0].FeeCurrency)
	}
}

func TestFillForUnknownOrderIgnored(t *testing.T) {
	r, _, notifier := newTestReconciler(t, Config{})
	r.HandleFill(context.Background(), domain.FillEvent{ExchangeOrderID: "nope", Amount: 1, Fee: 1})
	if len(notifier.all()) != 0 || len(r.Pending()) != 0 {
		t.Fatal("fill for an unknown order must be a no-op")
	}
}

func TestRestartRecognizesPersistedOrders(t *testing.T) {
	store := mem.New()
	s := sched.New(slog.Default())
	defer s.Close()
	notifier := &recordingNotifier{}
	ctx := context.Background()

	first, err := New(Config{Exchange: "testex"}, store, s, notifier, nil, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cid, _ := first.Submit(ctx, &fakeSubmitter{}, "BTCUSD", 1.0, 100)
	first.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, ExchangeOrderID: "ex-5",
		Amount: 1.0, Price: 100, Status: domain.OrderStatusActive,
	})

	// A fresh instance over the same store stands in for a restart.
	second, err := New(Config{Exchange: "testex"}, store, s, notifier, nil, slog.Default())
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	if len(second.Pending()) != 1 {
		t.Fatalf("restart must recover the pending order, got %d", len(second.Pending()))
	}

	second.HandleFill(ctx, domain.FillEvent{ExchangeOrderID: "ex-5", Amount: 1.0, Fee: 0.2, FeeCurrency: "USD"})
	second.HandleOrderStatus(ctx, domain.OrderStatusEvent{
		ClientOrderID: cid, ExchangeOrderID: "ex-5", Pair: "BTCUSD",
		Amount: 1.0, Price: 100, Status: domain.OrderStatusComplete,
	})
	if len(notifier.all()) != 1 {
		t.Fatal("recovered order must still complete")
	}

	third, err := New(Config{Exchange: "testex"}, store, s, notifier, nil, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(third.Pending()) != 0 {
		t.Fatal("completion must clear the persisted pending set")
	}
}
