package liveness

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.ChannelTimeout
}

func (r *recorder) notify(n domain.ChannelTimeout) {
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()
}

func (r *recorder) all() []domain.ChannelTimeout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChannelTimeout(nil), r.events...)
}

func TestTimeoutEdgeTriggered(t *testing.T) {
	rec := &recorder{}
	m := New(rec.notify, slog.Default())
	m.Track("bitfinex", "book:tBTCUSD", 100*time.Millisecond)

	stale := time.Now().Add(time.Second)

	// Multiple ticks while stale produce exactly one true notification.
	m.check(stale)
	m.check(stale)
	m.check(stale.Add(time.Second))

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(events))
	}
	if !events[0].TimedOut {
		t.Fatal("expected a timed-out=true notification")
	}
	if !m.IsTimedOut("bitfinex", "book:tBTCUSD") {
		t.Fatal("channel should be flagged timed out")
	}

	// The next message clears the flag with exactly one false notification.
	m.Touch("bitfinex", "book:tBTCUSD")
	m.Touch("bitfinex", "book:tBTCUSD")

	events = rec.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 notifications total, got %d", len(events))
	}
	if events[1].TimedOut {
		t.Fatal("expected a timed-out=false notification")
	}
	if m.IsTimedOut("bitfinex", "book:tBTCUSD") {
		t.Fatal("flag should be cleared after a message")
	}
}

func TestUntrackedChannelExcluded(t *testing.T) {
	rec := &recorder{}
	m := New(rec.notify, slog.Default())
	m.Track("bitfinex", "book:tBTCUSD", 10*time.Millisecond)
	m.Untrack("bitfinex", "book:tBTCUSD")

	m.check(time.Now().Add(time.Hour))
	if len(rec.all()) != 0 {
		t.Fatal("untracked channel must not produce notifications")
	}
}

func TestFreshChannelNotFlagged(t *testing.T) {
	rec := &recorder{}
	m := New(rec.notify, slog.Default())
	m.Track("hitbtc", "book:BTCUSD", time.Minute)

	m.check(time.Now())
	if len(rec.all()) != 0 {
		t.Fatal("fresh channel must not be flagged")
	}
	if _, ok := m.LastMessageTime("hitbtc", "book:BTCUSD"); !ok {
		t.Fatal("tracked channel should report a last message time")
	}
}
