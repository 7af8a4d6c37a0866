// Package ledger keeps a bounded, deduplicated history of recent
// trades for one channel.
package ledger

import (
	"sort"
	"sync"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

// DefaultCap is the number of trades retained per channel.
const DefaultCap = 1000

// Ledger retains the most recent trades by exchange-assigned id.
// Redelivery of an already-seen trade (e.g. on reconnect replay)
// replaces the stored entry instead of duplicating it.
type Ledger struct {
	mu   sync.RWMutex
	max  int
	byID map[int64]domain.Trade
}

// New creates a ledger bounded to max entries. max <= 0 uses DefaultCap.
func New(max int) *Ledger {
	if max <= 0 {
		max = DefaultCap
	}
	return &Ledger{
		max:  max,
		byID: make(map[int64]domain.Trade, max),
	}
}

// Upsert inserts a trade, replacing any existing trade with the same
// id. After an insert the ledger evicts the lowest-id (oldest) entries
// until back at the cap.
func (l *Ledger) Upsert(t domain.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byID[t.ID] = t
	for len(l.byID) > l.max {
		oldest := int64(0)
		first := true
		for id := range l.byID {
			if first || id < oldest {
				oldest = id
				first = false
			}
		}
		delete(l.byID, oldest)
	}
}

// Recent returns the retained trades ordered newest-first by id.
func (l *Ledger) Recent() []domain.Trade {
	l.mu.RLock()
	out := make([]domain.Trade, 0, len(l.byID))
	for _, t := range l.byID {
		out = append(out, t)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Get returns the trade with the given id.
func (l *Ledger) Get(id int64) (domain.Trade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.byID[id]
	return t, ok
}

// Len returns the number of retained trades.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

// Clear discards all trades, e.g. on channel teardown.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.byID = make(map[int64]domain.Trade, l.max)
	l.mu.Unlock()
}
