// Package book implements the order book reconstruction engine and the
// volume-weighted execution price query it answers for strategies.
package book

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

// Book holds the reconstructed order book for one channel. Asks are
// best at the lowest price, bids best at the highest. Within a side a
// price is unique; a crossed book (best bid >= best ask) is reported
// but not treated as fatal, since upstream glitches occur.
type Book struct {
	pair   string
	logger *slog.Logger

	mu        sync.RWMutex
	bids      map[float64]domain.PriceLevel
	asks      map[float64]domain.PriceLevel
	updatedAt time.Time
}

// New creates an empty book for the given pair.
func New(pair string, logger *slog.Logger) *Book {
	return &Book{
		pair:   pair,
		logger: logger.With(slog.String("component", "book"), slog.String("pair", pair)),
		bids:   make(map[float64]domain.PriceLevel),
		asks:   make(map[float64]domain.PriceLevel),
	}
}

// ApplySnapshot replaces one side's levels wholesale. Levels with
// Count == 0 are skipped rather than stored.
func (b *Book) ApplySnapshot(side domain.Side, levels []domain.PriceLevel) {
	m := make(map[float64]domain.PriceLevel, len(levels))
	for _, lvl := range levels {
		if lvl.Count == 0 {
			continue
		}
		m[lvl.Price] = lvl
	}

	b.mu.Lock()
	if side == domain.SideBid {
		b.bids = m
	} else {
		b.asks = m
	}
	b.updatedAt = time.Now()
	b.mu.Unlock()

	if b.Crossed() {
		b.logger.Warn("book crossed after snapshot", slog.String("side", string(side)))
	}
}

// ApplyDelta applies one incremental level update.
//
//   - count == 0 deletes the level at price; a delete for an absent
//     level is an inconsistency: logged, no-op.
//   - count > 0 with the level present accumulates count and amount
//     (multiple orders merged at one price tick).
//   - count > 0 with the level absent inserts it.
//   - count < 0 is a protocol violation: the update is dropped and an
//     error returned.
func (b *Book) ApplyDelta(side domain.Side, price float64, count int64, amount float64) error {
	if count < 0 {
		b.logger.Warn("negative level count, dropping update",
			slog.String("side", string(side)),
			slog.Float64("price", price),
			slog.Int64("count", count),
		)
		return fmt.Errorf("book: level count %d at %v: %w", count, price, domain.ErrProtocolViolation)
	}

	b.mu.Lock()
	m := b.bids
	if side == domain.SideAsk {
		m = b.asks
	}

	if count == 0 {
		if _, ok := m[price]; !ok {
			b.mu.Unlock()
			b.logger.Warn("delete for absent level",
				slog.String("side", string(side)),
				slog.Float64("price", price),
			)
			return nil
		}
		delete(m, price)
		b.updatedAt = time.Now()
		b.mu.Unlock()
		return nil
	}

	if lvl, ok := m[price]; ok {
		lvl.Count += count
		lvl.Amount += amount
		m[price] = lvl
	} else {
		m[price] = domain.PriceLevel{Price: price, Count: count, Amount: amount}
	}
	b.updatedAt = time.Now()
	b.mu.Unlock()

	if b.Crossed() {
		b.logger.Warn("book crossed after delta",
			slog.String("side", string(side)),
			slog.Float64("price", price),
		)
	}
	return nil
}

// ApplyLevel applies an absolute level update from exchanges whose
// deltas carry the new total size rather than an increment. size == 0
// deletes the level (a delete for an absent level is an inconsistency,
// logged, no-op); otherwise the level is replaced wholesale.
func (b *Book) ApplyLevel(side domain.Side, price float64, count int64, size float64) error {
	if size < 0 || count < 0 {
		b.logger.Warn("negative absolute level, dropping update",
			slog.String("side", string(side)),
			slog.Float64("price", price),
			slog.Float64("size", size),
		)
		return fmt.Errorf("book: absolute level %v at %v: %w", size, price, domain.ErrProtocolViolation)
	}

	b.mu.Lock()
	m := b.bids
	if side == domain.SideAsk {
		m = b.asks
	}

	if size == 0 {
		if _, ok := m[price]; !ok {
			b.mu.Unlock()
			b.logger.Warn("delete for absent level",
				slog.String("side", string(side)),
				slog.Float64("price", price),
			)
			return nil
		}
		delete(m, price)
	} else {
		if count <= 0 {
			count = 1
		}
		m[price] = domain.PriceLevel{Price: price, Count: count, Amount: size}
	}
	b.updatedAt = time.Now()
	b.mu.Unlock()
	return nil
}

// ExecutionPrice walks levels from best outward, consuming up to the
// level's available amount, until volume is met or the book exhausts.
// It returns the volume-weighted average price and the price of the
// worst level touched. When depth is insufficient it returns
// domain.ErrInsufficientDepth with Quote.MaxVolume set to the maximum
// obtainable volume, so a caller can retry with a reduced target.
// volume <= 0 is a usage error and fails immediately.
func (b *Book) ExecutionPrice(side domain.Side, volume float64) (domain.Quote, error) {
	if volume <= 0 {
		return domain.Quote{}, domain.ErrInvalidVolume
	}

	levels := b.Levels(side)

	var (
		remaining = volume
		notional  float64
		consumed  float64
		limit     float64
	)
	for _, lvl := range levels {
		take := lvl.Amount
		if take > remaining {
			take = remaining
		}
		notional += take * lvl.Price
		consumed += take
		remaining -= take
		limit = lvl.Price
		if remaining <= 0 {
			break
		}
	}

	if consumed == 0 {
		return domain.Quote{}, domain.ErrInsufficientDepth
	}

	q := domain.Quote{
		AvgPrice:   notional / consumed,
		LimitPrice: limit,
		MaxVolume:  consumed,
	}
	if remaining > 0 {
		return q, domain.ErrInsufficientDepth
	}
	return q, nil
}

// Levels returns a copy of one side's levels ordered best-first.
func (b *Book) Levels(side domain.Side) []domain.PriceLevel {
	b.mu.RLock()
	m := b.bids
	if side == domain.SideAsk {
		m = b.asks
	}
	out := make([]domain.PriceLevel, 0, len(m))
	for _, lvl := range m {
		out = append(out, lvl)
	}
	b.mu.RUnlock()

	if side == domain.SideAsk {
		sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	}
	return out
}

// Best returns the best price on a side, or ok == false when the side
// is empty.
func (b *Book) Best(side domain.Side) (float64, bool) {
	lvls := b.Levels(side)
	if len(lvls) == 0 {
		return 0, false
	}
	return lvls[0].Price, true
}

// Crossed reports whether best bid >= best ask. Expected to be false;
// violations are reported by callers, not treated as fatal.
func (b *Book) Crossed() bool {
	bid, okB := b.Best(domain.SideBid)
	ask, okA := b.Best(domain.SideAsk)
	return okB && okA && bid >= ask
}

// Clear discards all levels, e.g. when the owning channel is
// unsubscribed. Contents are rebuilt from the next snapshot.
func (b *Book) Clear() {
	b.mu.Lock()
	b.bids = make(map[float64]domain.PriceLevel)
	b.asks = make(map[float64]domain.PriceLevel)
	b.mu.Unlock()
}

// UpdatedAt returns the time of the last mutation.
func (b *Book) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}
