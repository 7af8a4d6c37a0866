// Package hitbtc normalizes the HitBTC JSON-RPC protocol. Every book
// message carries a per-symbol sequence number; the first message
// after subscribing is a snapshot establishing the baseline and every
// update must follow with exactly baseline+1. A gap re-baselines on
// the new sequence by default, or forces a fresh subscription in
// strict mode.
package hitbtc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mbehr1/cryptotrader/internal/crypto"
	"github.com/mbehr1/cryptotrader/internal/domain"
)

// Adapter holds the per-symbol sequence baselines and the mapping from
// request ids to in-flight subscriptions. All state is rebuilt after a
// reconnect.
type Adapter struct {
	logger *slog.Logger
	strict bool

	mu       sync.Mutex
	sequence map[string]int64
	pending  map[int64]pendingSub
	nextID   int64
}

type pendingSub struct {
	pair string
	kind domain.ChannelType
}

// New creates an adapter. With strict set, a sequence gap invalidates
// the symbol's baseline and demands a fresh subscription instead of
// re-baselining in place.
func New(logger *slog.Logger, strict bool) *Adapter {
	return &Adapter{
		logger:   logger.With(slog.String("component", "hitbtc")),
		strict:   strict,
		sequence: make(map[string]int64),
		pending:  make(map[int64]pendingSub),
		nextID:   1,
	}
}

func (a *Adapter) Name() string { return "hitbtc" }

// Subscriptions returns orderbook and trades subscribe commands per
// pair.
func (a *Adapter) Subscriptions(pairs []string) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out [][]byte
	for _, p := range pairs {
		out = append(out,
			a.subscribeLocked("subscribeOrderbook", p, domain.ChannelBooks),
			a.subscribeLocked("subscribeTrades", p, domain.ChannelTrades),
		)
	}
	return out
}

func (a *Adapter) subscribeLocked(method, pair string, kind domain.ChannelType) []byte {
	id := a.nextID
	a.nextID++
	a.pending[id] = pendingSub{pair: pair, kind: kind}
	msg, _ := json.Marshal(map[string]any{
		"method": method,
		"params": map[string]string{"symbol": pair},
		"id":     id,
	})
	return msg
}

// ResubscribeRequests returns a fresh orderbook subscription for the
// pair in strict mode. The lenient default returns nil: the stream
// continues on the re-established baseline.
func (a *Adapter) ResubscribeRequests(pair string) [][]byte {
	if !a.strict {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return [][]byte{a.subscribeLocked("subscribeOrderbook", pair, domain.ChannelBooks)}
}

// AuthRequest returns the login command: HMAC-SHA256 over the nonce.
func (a *Adapter) AuthRequest(auth *crypto.HMACAuth) []byte {
	nonce := strconv.FormatInt(auth.Nonce(), 10)
	msg, _ := json.Marshal(map[string]any{
		"method": "login",
		"params": map[string]string{
			"algo":      "HS256",
			"pKey":      auth.Key,
			"nonce":     nonce,
			"signature": auth.SignSHA256(nonce),
		},
		"id": 0,
	})
	return msg
}

type rpcMsg struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Parse normalizes one raw message: subscribe/login results, book
// notifications, or trade notifications.
func (a *Adapter) Parse(_ string, raw []byte) ([]domain.Event, error) {
	var msg rpcMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("hitbtc: message: %w", domain.ErrProtocolViolation)
	}

	if msg.Error != nil {
		if msg.ID != nil && *msg.ID == 0 {
			return []domain.Event{domain.AuthEvent{OK: false, Reason: msg.Error.Message}}, nil
		}
		return nil, fmt.Errorf("hitbtc: server error %d %s: %w",
			msg.Error.Code, msg.Error.Message, domain.ErrProtocolViolation)
	}

	if msg.ID != nil {
		return a.parseResult(*msg.ID, msg.Result)
	}

	switch msg.Method {
	case "snapshotOrderbook":
		return a.parseBook(msg.Params, true)
	case "updateOrderbook":
		return a.parseBook(msg.Params, false)
	case "snapshotTrades", "updateTrades":
		return a.parseTrades(msg.Params)
	}
	return nil, nil
}

func (a *Adapter) parseResult(id int64, result json.RawMessage) ([]domain.Event, error) {
	var accepted bool
	if err := json.Unmarshal(result, &accepted); err != nil || !accepted {
		return nil, fmt.Errorf("hitbtc: request %d rejected: %w", id, domain.ErrProtocolViolation)
	}
	if id == 0 {
		return []domain.Event{domain.AuthEvent{OK: true}}, nil
	}

	a.mu.Lock()
	sub, ok := a.pending[id]
	delete(a.pending, id)
	a.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return []domain.Event{domain.SubscriptionAckEvent{
		Pair:        sub.pair,
		ChannelType: sub.kind,
	}}, nil
}

type bookParams struct {
	Ask      []bookLevel `json:"ask"`
	Bid      []bookLevel `json:"bid"`
	Symbol   string      `json:"symbol"`
	Sequence int64       `json:"sequence"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (a *Adapter) parseBook(raw json.RawMessage, snapshot bool) ([]domain.Event, error) {
	var p bookParams
	if err := json.Unmarshal(raw, &p); err != nil || p.Symbol == "" {
		return nil, fmt.Errorf("hitbtc: book params: %w", domain.ErrProtocolViolation)
	}

	if snapshot {
		a.mu.Lock()
		a.sequence[p.Symbol] = p.Sequence
		a.mu.Unlock()

		bids, err := snapshotLevels(p.Bid)
		if err != nil {
			return nil, err
		}
		asks, err := snapshotLevels(p.Ask)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		return []domain.Event{
			domain.SnapshotEvent{Pair: p.Symbol, Side: domain.SideBid, Levels: bids, Timestamp: now},
			domain.SnapshotEvent{Pair: p.Symbol, Side: domain.SideAsk, Levels: asks, Timestamp: now},
		}, nil
	}

	a.mu.Lock()
	baseline, ready := a.sequence[p.Symbol]
	gap := ready && p.Sequence != baseline+1
	if ready && (!gap || !a.strict) {
		a.sequence[p.Symbol] = p.Sequence
	}
	if gap && a.strict {
		// Invalidate the baseline so further updates are dropped until
		// the fresh snapshot arrives.
		delete(a.sequence, p.Symbol)
	}
	a.mu.Unlock()

	if !ready {
		a.logger.Debug("dropping update before snapshot", slog.String("symbol", p.Symbol))
		return nil, nil
	}

	var events []domain.Event
	if gap {
		events = append(events, domain.SequenceGapEvent{
			Pair:     p.Symbol,
			Expected: baseline + 1,
			Got:      p.Sequence,
		})
		if a.strict {
			return events, nil
		}
	}

	for _, l := range p.Bid {
		ev, err := deltaEvent(p.Symbol, domain.SideBid, l)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	for _, l := range p.Ask {
		ev, err := deltaEvent(p.Symbol, domain.SideAsk, l)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func snapshotLevels(rows []bookLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(rows))
	for _, l := range rows {
		price, size, err := parseLevel(l)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Count: 1, Amount: size})
	}
	return out, nil
}

// deltaEvent carries the level's new absolute size. Size 0 removes the
// level.
func deltaEvent(pair string, side domain.Side, l bookLevel) (domain.DeltaEvent, error) {
	price, size, err := parseLevel(l)
	if err != nil {
		return domain.DeltaEvent{}, err
	}
	count := int64(1)
	if size == 0 {
		count = 0
	}
	return domain.DeltaEvent{
		Pair:     pair,
		Side:     side,
		Price:    price,
		Count:    count,
		Amount:   size,
		Absolute: true,
	}, nil
}

func parseLevel(l bookLevel) (price, size float64, err error) {
	price, err = strconv.ParseFloat(l.Price, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("hitbtc: level price %q: %w", l.Price, domain.ErrProtocolViolation)
	}
	size, err = strconv.ParseFloat(l.Size, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("hitbtc: level size %q: %w", l.Size, domain.ErrProtocolViolation)
	}
	return price, size, nil
}

type tradeParams struct {
	Data   []tradeRow `json:"data"`
	Symbol string     `json:"symbol"`
}

type tradeRow struct {
	ID        int64  `json:"id"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

func (a *Adapter) parseTrades(raw json.RawMessage) ([]domain.Event, error) {
	var p tradeParams
	if err := json.Unmarshal(raw, &p); err != nil || p.Symbol == "" {
		return nil, fmt.Errorf("hitbtc: trade params: %w", domain.ErrProtocolViolation)
	}

	events := make([]domain.Event, 0, len(p.Data))
	for _, row := range p.Data {
		price, err := strconv.ParseFloat(row.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("hitbtc: trade price %q: %w", row.Price, domain.ErrProtocolViolation)
		}
		amount, err := strconv.ParseFloat(row.Quantity, 64)
		if err != nil {
			return nil, fmt.Errorf("hitbtc: trade quantity %q: %w", row.Quantity, domain.ErrProtocolViolation)
		}
		if row.Side == "sell" {
			amount = -amount
		}
		ts, err := time.Parse(time.RFC3339Nano, row.Timestamp)
		if err != nil {
			ts = time.Now()
		}
		events = append(events, domain.TradeEvent{
			Pair: p.Symbol,
			Trade: domain.Trade{
				ID:        row.ID,
				Timestamp: ts,
				Amount:    amount,
				Price:     price,
			},
		})
	}
	return events, nil
}
