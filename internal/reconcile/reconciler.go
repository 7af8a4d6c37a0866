// Package reconcile correlates the two asynchronous, unordered event
// streams an exchange produces for an order (status reports keyed by
// client id, fill/fee reports keyed by exchange id) into a single
// authoritative completion signal, emitted exactly once per order.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/mbehr1/cryptotrader/internal/domain"
	"github.com/mbehr1/cryptotrader/internal/sched"
)

const (
	// DefaultFeeRate is the nominal rate substituted when the grace
	// timeout elapses before fill events covered the full amount.
	DefaultFeeRate = 0.002

	// DefaultFeeGrace is how long a terminal order waits for full fee
	// coverage before the estimate is substituted.
	DefaultFeeGrace = 10 * time.Second

	// clientIDFloor is where the per-exchange client id counter starts
	// and wraps to when it would become non-positive. Ids stay within
	// the numeric range exchanges accept while remaining unique for the
	// outstanding-order window.
	clientIDFloor = 1000

	// feeCoverageTolerance is the relative slack when comparing covered
	// amount against the order's total amount.
	feeCoverageTolerance = 1e-6
)

// Submitter sends a persisted order to the exchange.
type Submitter interface {
	SendOrder(o domain.PendingOrder) error
}

// Notifier receives the single completion signal per order.
type Notifier interface {
	OrderCompleted(c domain.OrderCompletion)
}

// History archives emitted completions. Archival is best effort: a
// failure is logged and never blocks the completion signal.
type History interface {
	SaveCompletion(ctx context.Context, c domain.OrderCompletion) error
}

// Config carries the reconciler's tunables. Zero values select the
// defaults.
type Config struct {
	Exchange string
	FeeRate  float64
	FeeGrace time.Duration
}

// Reconciler tracks pending orders for one exchange. The pending set
// and the last-used client id are persisted on every mutation so a
// restart can still recognize orders the exchange reports afterwards.
type Reconciler struct {
	cfg      Config
	logger   *slog.Logger
	settings domain.Settings
	sched    *sched.Scheduler
	notifier Notifier
	history  History

	mu         sync.Mutex
	byClient   map[int64]*domain.PendingOrder
	byExchange map[string]int64
}

// New loads the persisted pending set and returns a reconciler.
// history may be nil.
func New(cfg Config, settings domain.Settings, s *sched.Scheduler, notifier Notifier, history History, logger *slog.Logger) (*Reconciler, error) {
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = DefaultFeeRate
	}
	if cfg.FeeGrace <= 0 {
		cfg.FeeGrace = DefaultFeeGrace
	}
	r := &Reconciler{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "reconcile"), slog.String("exchange", cfg.Exchange)),
		settings:   settings,
		sched:      s,
		notifier:   notifier,
		history:    history,
		byClient:   make(map[int64]*domain.PendingOrder),
		byExchange: make(map[string]int64),
	}
	if err := r.load(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

type persistedOrder struct {
	ClientOrderID   int64  `json:"clientOrderId"`
	ExchangeOrderID string `json:"exchangeOrderId"`
}

func (r *Reconciler) pendingKey() string { return "pending_orders:" + r.cfg.Exchange }
func (r *Reconciler) lastIDKey() string  { return "last_client_order_id:" + r.cfg.Exchange }

func (r *Reconciler) load(ctx context.Context) error {
	raw, err := r.settings.GetString(ctx, r.pendingKey())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile: load pending orders: %w", err)
	}
	var persisted []persistedOrder
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		return fmt.Errorf("reconcile: decode pending orders: %w", err)
	}
	for _, p := range persisted {
		o := &domain.PendingOrder{
			ClientOrderID:   p.ClientOrderID,
			ExchangeOrderID: p.ExchangeOrderID,
			Status:          domain.OrderStatusNew,
		}
		r.byClient[o.ClientOrderID] = o
		if o.ExchangeOrderID != "" {
			r.byExchange[o.ExchangeOrderID] = o.ClientOrderID
		}
	}
	if len(persisted) > 0 {
		r.logger.Info("recovered pending orders", slog.Int("count", len(persisted)))
	}
	return nil
}

// persistLocked rewrites the whole pending set, ordered by client id.
func (r *Reconciler) persistLocked(ctx context.Context) error {
	persisted := make([]persistedOrder, 0, len(r.byClient))
	for _, o := range r.byClient {
		persisted = append(persisted, persistedOrder{
			ClientOrderID:   o.ClientOrderID,
			ExchangeOrderID: o.ExchangeOrderID,
		})
	}
	sortPersisted(persisted)
	raw, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("reconcile: encode pending orders: %w", err)
	}
	return r.settings.SetString(ctx, r.pendingKey(), string(raw))
}

func sortPersisted(p []persistedOrder) {
	for i := 1; i < len(p); i++ {
		for j := i; j > 0 && p[j].ClientOrderID < p[j-1].ClientOrderID; j-- {
			p[j], p[j-1] = p[j-1], p[j]
		}
	}
}

// nextClientIDLocked increments the persisted counter, wrapping to the
// floor if it would become non-positive.
func (r *Reconciler) nextClientIDLocked(ctx context.Context) (int64, error) {
	last, err := r.settings.GetInt64(ctx, r.lastIDKey())
	if errors.Is(err, domain.ErrNotFound) {
		last = clientIDFloor - 1
	} else if err != nil {
		return 0, fmt.Errorf("reconcile: load client id: %w", err)
	}
	next := last + 1
	if next <= 0 {
		next = clientIDFloor
	}
	if err := r.settings.SetInt64(ctx, r.lastIDKey(), next); err != nil {
		return 0, fmt.Errorf("reconcile: persist client id: %w", err)
	}
	return next, nil
}

// Submit allocates a client id, persists the order, then sends it. The
// persist happens before the send so a crash between the two still
// lets a restart recognize the order when the exchange reports it.
func (r *Reconciler) Submit(ctx context.Context, submitter Submitter, pair string, amount, price float64) (int64, error) {
	r.mu.Lock()
	cid, err := r.nextClientIDLocked(ctx)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	o := &domain.PendingOrder{
		ClientOrderID: cid,
		Pair:          pair,
		Amount:        amount,
		Price:         price,
		Status:        domain.OrderStatusNew,
		CreatedAt:     time.Now(),
	}
	r.byClient[cid] = o
	if err := r.persistLocked(ctx); err != nil {
		delete(r.byClient, cid)
		r.mu.Unlock()
		return 0, err
	}
	order := *o
	r.mu.Unlock()

	r.logger.Info("order submitted",
		slog.Int64("client_order_id", cid),
		slog.String("pair", pair),
		slog.Float64("amount", amount),
		slog.Float64("price", price),
	)
	if err := submitter.SendOrder(order); err != nil {
		return cid, fmt.Errorf("reconcile: send order %d: %w", cid, err)
	}
	return cid, nil
}

// HandleOrderStatus applies an asynchronous status report. The first
// report binds the exchange-side id; a terminal status arms the fee
// grace timer unless the fills already cover the full amount.
func (r *Reconciler) HandleOrderStatus(ctx context.Context, ev domain.OrderStatusEvent) {
	r.mu.Lock()
	o := r.lookupLocked(ev)
	if o == nil {
		r.mu.Unlock()
		r.logger.Warn("status for unknown order",
			slog.Int64("client_order_id", ev.ClientOrderID),
			slog.String("exchange_order_id", ev.ExchangeOrderID),
		)
		return
	}

	if o.ExchangeOrderID == "" && ev.ExchangeOrderID != "" {
		o.ExchangeOrderID = ev.ExchangeOrderID
		r.byExchange[ev.ExchangeOrderID] = o.ClientOrderID
		if err := r.persistLocked(ctx); err != nil {
			r.logger.Error("persist after id bind failed", slog.String("error", err.Error()))
		}
	}
	// Restart recovery: the persisted record has no amount or price, so
	// adopt them from the first report.
	if o.Amount == 0 && ev.Amount != 0 {
		o.Amount = ev.Amount
		o.Price = ev.Price
		o.Pair = ev.Pair
	}
	o.Status = ev.Status

	if ev.Status == domain.OrderStatusRejected {
		r.emitLocked(ctx, o, domain.OrderCompletion{
			Exchange:      r.cfg.Exchange,
			ClientOrderID: o.ClientOrderID,
			Pair:          o.Pair,
			Amount:        0,
			Price:         o.Price,
			Status:        domain.OrderStatusRejected,
			Reason:        ev.Reason,
		})
		r.mu.Unlock()
		return
	}

	if ev.Status.Terminal() && o.TerminalAt == nil {
		now := time.Now()
		o.TerminalAt = &now
		if !r.tryCompleteLocked(ctx, o) {
			cid := o.ClientOrderID
			r.sched.After(r.graceTask(cid), r.cfg.FeeGrace, func() {
				r.onGraceElapsed(cid)
			})
		}
	}
	r.mu.Unlock()
}

// HandleFill accumulates a fill/fee report, keyed by the exchange-side
// order id. A fee currency mismatch is logged and the registered
// currency kept; a fill for an unknown order is logged and dropped.
func (r *Reconciler) HandleFill(ctx context.Context, ev domain.FillEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cid, ok := r.byExchange[ev.ExchangeOrderID]
	if !ok {
		r.logger.Warn("fill for unknown order", slog.String("exchange_order_id", ev.ExchangeOrderID))
		return
	}
	o := r.byClient[cid]
	if o == nil {
		return
	}

	if o.FeeCurrency == "" {
		o.FeeCurrency = ev.FeeCurrency
	} else if ev.FeeCurrency != "" && ev.FeeCurrency != o.FeeCurrency {
		r.logger.Warn("fee currency mismatch across fills",
			slog.Int64("client_order_id", cid),
			slog.String("registered", o.FeeCurrency),
			slog.String("got", ev.FeeCurrency),
		)
	}
	o.FeeAccumulated += ev.Fee
	o.FeeCoveredAmount += math.Abs(ev.Amount)

	r.tryCompleteLocked(ctx, o)
}

func (r *Reconciler) lookupLocked(ev domain.OrderStatusEvent) *domain.PendingOrder {
	if o, ok := r.byClient[ev.ClientOrderID]; ok {
		return o
	}
	if cid, ok := r.byExchange[ev.ExchangeOrderID]; ok {
		return r.byClient[cid]
	}
	return nil
}

// tryCompleteLocked emits the completion if the order is terminal and
// the fills cover the full amount within tolerance.
func (r *Reconciler) tryCompleteLocked(ctx context.Context, o *domain.PendingOrder) bool {
	if !o.Status.Terminal() {
		return false
	}
	total := math.Abs(o.Amount)
	if o.FeeCoveredAmount < total*(1-feeCoverageTolerance) {
		return false
	}
	r.emitLocked(ctx, o, domain.OrderCompletion{
		Exchange:      r.cfg.Exchange,
		ClientOrderID: o.ClientOrderID,
		Pair:          o.Pair,
		Amount:        o.Amount,
		Price:         o.Price,
		Status:        o.Status,
		Fee:           o.FeeAccumulated,
		FeeCurrency:   o.FeeCurrency,
	})
	return true
}

// onGraceElapsed substitutes the nominal fee estimate for orders whose
// fills never covered the full amount.
func (r *Reconciler) onGraceElapsed(cid int64) {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.byClient[cid]
	if !ok || o.CompletionEmitted {
		return
	}
	if !o.Status.Terminal() {
		return
	}
	fee := o.FeeAccumulated
	estimated := false
	if o.FeeCoveredAmount < math.Abs(o.Amount)*(1-feeCoverageTolerance) {
		fee = math.Abs(o.Amount) * o.Price * r.cfg.FeeRate
		estimated = true
		r.logger.Warn("fee grace elapsed, substituting estimate",
			slog.Int64("client_order_id", cid),
			slog.Float64("covered", o.FeeCoveredAmount),
			slog.Float64("amount", o.Amount),
		)
	}
	r.emitLocked(ctx, o, domain.OrderCompletion{
		Exchange:      r.cfg.Exchange,
		ClientOrderID: o.ClientOrderID,
		Pair:          o.Pair,
		Amount:        o.Amount,
		Price:         o.Price,
		Status:        o.Status,
		Fee:           fee,
		FeeCurrency:   o.FeeCurrency,
		FeeEstimated:  estimated,
	})
}

// emitLocked delivers the completion exactly once and removes the
// order from the persisted pending set. A second qualifying event for
// an already emitted order is logged as unexpected and ignored.
func (r *Reconciler) emitLocked(ctx context.Context, o *domain.PendingOrder, c domain.OrderCompletion) {
	if o.CompletionEmitted {
		r.logger.Warn("duplicate completion suppressed", slog.Int64("client_order_id", o.ClientOrderID))
		return
	}
	o.CompletionEmitted = true
	r.sched.Cancel(r.graceTask(o.ClientOrderID))

	delete(r.byClient, o.ClientOrderID)
	if o.ExchangeOrderID != "" {
		delete(r.byExchange, o.ExchangeOrderID)
	}
	if err := r.persistLocked(ctx); err != nil {
		r.logger.Error("persist after completion failed", slog.String("error", err.Error()))
	}

	r.logger.Info("order completed",
		slog.Int64("client_order_id", c.ClientOrderID),
		slog.String("status", string(c.Status)),
		slog.Float64("fee", c.Fee),
		slog.Bool("fee_estimated", c.FeeEstimated),
	)
	if r.notifier != nil {
		r.notifier.OrderCompleted(c)
	}
	if r.history != nil {
		if err := r.history.SaveCompletion(ctx, c); err != nil {
			r.logger.Error("history archive failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Reconciler) graceTask(cid int64) string {
	return "fee_grace:" + r.cfg.Exchange + ":" + strconv.FormatInt(cid, 10)
}

// Pending returns a copy of the pending orders, for inspection.
func (r *Reconciler) Pending() []domain.PendingOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PendingOrder, 0, len(r.byClient))
	for _, o := range r.byClient {
		out = append(out, *o)
	}
	return out
}
