package exchange

import (
	"log/slog"
	"sync"

	"github.com/mbehr1/cryptotrader/internal/book"
	"github.com/mbehr1/cryptotrader/internal/domain"
	"github.com/mbehr1/cryptotrader/internal/ledger"
)

// Channel is one logical subscription to a stream of market or
// account data. The owning connection keeps channels in a Registry
// keyed by id; a channel stores only its owning exchange's name, never
// a back-reference.
type Channel struct {
	Exchange string
	ID       string
	Type     domain.ChannelType
	Pair     string

	// Book is set for ChannelBooks, Trades for ChannelTrades.
	Book   *book.Book
	Trades *ledger.Ledger

	mu         sync.Mutex
	subscribed bool
}

// ChannelID builds the registry key for a channel type and pair.
func ChannelID(t domain.ChannelType, pair string) string {
	return string(t) + ":" + pair
}

// NewChannel creates a channel of the given type with its owned state.
func NewChannel(exchange string, t domain.ChannelType, pair string, logger *slog.Logger) *Channel {
	ch := &Channel{
		Exchange:   exchange,
		ID:         ChannelID(t, pair),
		Type:       t,
		Pair:       pair,
		subscribed: true,
	}
	switch t {
	case domain.ChannelBooks:
		ch.Book = book.New(pair, logger)
	case domain.ChannelTrades:
		ch.Trades = ledger.New(ledger.DefaultCap)
	}
	return ch
}

// Subscribed reports whether the channel is currently live.
func (c *Channel) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// SetSubscribed marks the channel live or paused.
func (c *Channel) SetSubscribed(v bool) {
	c.mu.Lock()
	c.subscribed = v
	c.mu.Unlock()
}

// Teardown discards the channel's book and ledger contents; they are
// rebuilt from the next snapshot after resubscription.
func (c *Channel) Teardown() {
	c.SetSubscribed(false)
	if c.Book != nil {
		c.Book.Clear()
	}
	if c.Trades != nil {
		c.Trades.Clear()
	}
}

// Registry is the id-keyed set of live channels for one exchange.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Channel)}
}

// Get returns the channel with the given id.
func (r *Registry) Get(id string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byID[id]
	return ch, ok
}

// Put registers a channel under its id, replacing any previous one.
func (r *Registry) Put(ch *Channel) {
	r.mu.Lock()
	r.byID[ch.ID] = ch
	r.mu.Unlock()
}

// Remove deletes the channel with the given id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// All returns a snapshot of the registered channels.
func (r *Registry) All() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.byID))
	for _, ch := range r.byID {
		out = append(out, ch)
	}
	return out
}
