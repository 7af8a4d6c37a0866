// Package bitfinex normalizes the Bitfinex v2 WebSocket protocol:
// array-framed channel data where a book update is a single
// (price, count, amount) triple or an array of triples, heartbeats are
// the "hb" action string, and account events arrive on channel 0.
package bitfinex

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

// channel ids are assigned by the server in the subscription ack.
type boundChannel struct {
	kind domain.ChannelType
	pair string
}

// Adapter holds the per-connection wire state: the mapping from
// server-assigned channel ids to bound channels. State is rebuilt from
// acks after every reconnect.
type Adapter struct {
	logger *slog.Logger

	mu       sync.Mutex
	byID     map[int64]boundChannel
	balances map[string]float64
	authd    bool
}

// New creates an adapter with empty channel bindings.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{
		logger:   logger.With(slog.String("component", "bitfinex")),
		byID:     make(map[int64]boundChannel),
		balances: make(map[string]float64),
	}
}

// Name returns the exchange identifier.
func (a *Adapter) Name() string { return "bitfinex" }

// Subscriptions returns book and trades subscribe commands per pair.
func (a *Adapter) Subscriptions(pairs []string) [][]byte {
	var out [][]byte
	for _, p := range pairs {
		book, _ := json.Marshal(map[string]any{
			"event": "subscribe", "channel": "book", "symbol": p,
			"prec": "P0", "freq": "F0", "len": "25",
		})
		trades, _ := json.Marshal(map[string]any{
			"event": "subscribe", "channel": "trades", "symbol": p,
		})
		out = append(out, book, trades)
	}
	return out
}

// AuthRequest returns the signed auth command: HMAC-SHA384 over
// "AUTH" + nonce.
func (a *Adapter) AuthRequest(auth *crypto.HMACAuth) []byte {
	nonce, payload, sig := auth.AuthPayload()
	msg, _ := json.Marshal(map[string]any{
		"event":       "auth",
		"apiKey":      auth.Key,
		"authNonce":   nonce,
		"authPayload": payload,
		"authSig":     sig,
	})
	return msg
}

// Parse normalizes one raw message. Event-framed JSON objects carry
// lifecycle information; JSON arrays carry channel data.
func (a *Adapter) Parse(_ string, raw []byte) ([]domain.Event, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("bitfinex: empty message: %w", domain.ErrProtocolViolation)
	}
	if raw[0] == '{' {
		return a.parseEvent(raw)
	}
	if raw[0] == '[' {
		return a.parseChannelData(raw)
	}
	return nil, fmt.Errorf("bitfinex: unrecognized framing: %w", domain.ErrProtocolViolation)
}

type eventMsg struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

// Bitfinex info codes for maintenance mode.
const (
	codeMaintenanceStart = 20060
	codeMaintenanceEnd   = 20061
)

func (a *Adapter) parseEvent(raw []byte) ([]domain.Event, error) {
	var ev eventMsg
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("bitfinex: event: %w", domain.ErrProtocolViolation)
	}

	switch ev.Event {
	case "subscribed":
		kind := domain.ChannelGeneric
		switch ev.Channel {
		case "book":
			kind = domain.ChannelBooks
		case "trades":
			kind = domain.ChannelTrades
		}
		a.mu.Lock()
		a.byID[ev.ChanID] = boundChannel{kind: kind, pair: ev.Symbol}
		a.mu.Unlock()
		return []domain.Event{domain.SubscriptionAckEvent{
			Pair:        ev.Symbol,
			ChannelType: kind,
			ChannelID:   ev.ChanID,
		}}, nil

	case "unsubscribed":
		a.mu.Lock()
		bc, ok := a.byID[ev.ChanID]
		delete(a.byID, ev.ChanID)
		a.mu.Unlock()
		if !ok {
			return nil, nil
		}
		return []domain.Event{domain.UnsubscribeEvent{Pair: bc.pair}}, nil

	case "auth":
		ok := ev.Status == "OK"
		a.mu.Lock()
		a.authd = ok
		a.mu.Unlock()
		return []domain.Event{domain.AuthEvent{OK: ok, Reason: ev.Msg}}, nil

	case "info":
		switch ev.Code {
		case codeMaintenanceStart:
			return []domain.Event{domain.MaintenanceEvent{Active: true}}, nil
		case codeMaintenanceEnd:
			return []domain.Event{domain.MaintenanceEvent{Active: false}}, nil
		}
		return nil, nil

	case "error":
		return nil, fmt.Errorf("bitfinex: server error %d %s: %w", ev.Code, ev.Msg, domain.ErrProtocolViolation)
	}
	return nil, nil
}

func (a *Adapter) parseChannelData(raw []byte) ([]domain.Event, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 2 {
		return nil, fmt.Errorf("bitfinex: channel frame: %w", domain.ErrProtocolViolation)
	}

	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return nil, fmt.Errorf("bitfinex: channel id: %w", domain.ErrProtocolViolation)
	}

	// Action strings distinguish heartbeat and typed payloads from data.
	var action string
	if err := json.Unmarshal(frame[1], &action); err == nil {
		return a.parseAction(chanID, action, frame)
	}

	if chanID == 0 {
		return nil, fmt.Errorf("bitfinex: account frame without action: %w", domain.ErrProtocolViolation)
	}

	a.mu.Lock()
	bc, ok := a.byID[chanID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("bitfinex: data for unknown channel %d: %w", chanID, domain.ErrUnknownChannel)
	}

	switch bc.kind {
	case domain.ChannelBooks:
		return a.parseBook(bc.pair, frame[1])
	case domain.ChannelTrades:
		return a.parseTradeSnapshot(bc.pair, frame[1])
	}
	return nil, nil
}

func (a *Adapter) parseAction(chanID int64, action string, frame []json.RawMessage) ([]domain.Event, error) {
	a.mu.Lock()
	bc := a.byID[chanID]
	a.mu.Unlock()

	switch action {
	case "hb":
		return []domain.Event{domain.HeartbeatEvent{Pair: bc.pair, ChannelType: bc.kind}}, nil

	case "te", "tu":
		// "te" is the fast trade notification, "tu" the update carrying
		// the definitive id; the ledger dedupes on id either way.
		if len(frame) < 3 {
			return nil, fmt.Errorf("bitfinex: trade frame: %w", domain.ErrProtocolViolation)
		}
		if chanID == 0 {
			return a.parseOwnTrade(frame[2])
		}
		t, err := parseTradeEntry(frame[2])
		if err != nil {
			return nil, err
		}
		return []domain.Event{domain.TradeEvent{Pair: bc.pair, Trade: t}}, nil

	case "on", "ou", "oc":
		if len(frame) < 3 {
			return nil, fmt.Errorf("bitfinex: order frame: %w", domain.ErrProtocolViolation)
		}
		return a.parseOrder(action, frame[2])

	case "wu":
		if len(frame) < 3 {
			return nil, fmt.Errorf("bitfinex: wallet frame: %w", domain.ErrProtocolViolation)
		}
		return a.parseWallet(frame[2])
	}
	return nil, nil
}

// parseBook handles both a snapshot (array of triples) and a delta
// (single triple).
func (a *Adapter) parseBook(pair string, raw json.RawMessage) ([]domain.Event, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		return nil, fmt.Errorf("bitfinex: book payload: %w", domain.ErrProtocolViolation)
	}

	// A single triple's first element is a number; a snapshot's is an array.
	var first float64
	if err := json.Unmarshal(rows[0], &first); err == nil {
		ev, err := parseBookTriple(pair, raw)
		if err != nil {
			return nil, err
		}
		return []domain.Event{ev}, nil
	}

	bids := make([]domain.PriceLevel, 0, len(rows))
	asks := make([]domain.PriceLevel, 0, len(rows))
	for _, row := range rows {
		ev, err := parseBookTriple(pair, row)
		if err != nil {
			return nil, err
		}
		lvl := domain.PriceLevel{Price: ev.Price, Count: ev.Count, Amount: ev.Amount}
		if ev.Side == domain.SideBid {
			bids = append(bids, lvl)
		} else {
			asks = append(asks, lvl)
		}
	}
	return []domain.Event{
		domain.SnapshotEvent{Pair: pair, Side: domain.SideBid, Levels: bids, Timestamp: time.Now()},
		domain.SnapshotEvent{Pair: pair, Side: domain.SideAsk, Levels: asks, Timestamp: time.Now()},
	}, nil
}

// parseBookTriple decodes one (price, count, amount) triple. The side
// comes from the amount's sign, inverted for funding pairs; the stored
// amount is the magnitude.
func parseBookTriple(pair string, raw json.RawMessage) (domain.DeltaEvent, error) {
	var t [3]float64
	if err := json.Unmarshal(raw, &t); err != nil {
		return domain.DeltaEvent{}, fmt.Errorf("bitfinex: book triple: %w", domain.ErrProtocolViolation)
	}
	price, count, amount := t[0], int64(t[1]), t[2]

	side := domain.SideFromAmount(pair, amount)
	if amount < 0 {
		amount = -amount
	}
	return domain.DeltaEvent{
		Pair:   pair,
		Side:   side,
		Price:  price,
		Count:  count,
		Amount: amount,
	}, nil
}

func (a *Adapter) parseTradeSnapshot(pair string, raw json.RawMessage) ([]domain.Event, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("bitfinex: trade snapshot: %w", domain.ErrProtocolViolation)
	}
	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		t, err := parseTradeEntry(row)
		if err != nil {
			return nil, err
		}
		events = append(events, domain.TradeEvent{Pair: pair, Trade: t})
	}
	return events, nil
}

// parseTradeEntry decodes [ID, MTS, AMOUNT, PRICE].
func parseTradeEntry(raw json.RawMessage) (domain.Trade, error) {
	var e [4]float64
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.Trade{}, fmt.Errorf("bitfinex: trade entry: %w", domain.ErrProtocolViolation)
	}
	return domain.Trade{
		ID:        int64(e[0]),
		Timestamp: time.UnixMilli(int64(e[1])),
		Amount:    e[2],
		Price:     e[3],
	}, nil
}

// parseOrder decodes an account order array:
// [ID, GID, CID, SYMBOL, MTS_CREATE, MTS_UPDATE, AMOUNT, AMOUNT_ORIG,
// TYPE, _, _, _, _, STATUS, _, _, PRICE, PRICE_AVG, ...].
func (a *Adapter) parseOrder(action string, raw json.RawMessage) ([]domain.Event, error) {
	var f []json.RawMessage
	if err := json.Unmarshal(raw, &f); err != nil || len(f) < 18 {
		return nil, fmt.Errorf("bitfinex: order array: %w", domain.ErrProtocolViolation)
	}

	var (
		id, cid               int64
		symbol, status        string
		amount, orig, pAvg, p float64
	)
	json.Unmarshal(f[0], &id)
	json.Unmarshal(f[2], &cid)
	json.Unmarshal(f[3], &symbol)
	json.Unmarshal(f[6], &amount)
	json.Unmarshal(f[7], &orig)
	json.Unmarshal(f[13], &status)
	json.Unmarshal(f[16], &p)
	json.Unmarshal(f[17], &pAvg)

	price := p
	if pAvg != 0 {
		price = pAvg
	}
	return []domain.Event{domain.OrderStatusEvent{
		ClientOrderID:   cid,
		ExchangeOrderID: strconv.FormatInt(id, 10),
		Pair:            symbol,
		Amount:          orig,
		Price:           price,
		Status:          orderStatus(status),
		Reason:          status,
	}}, nil
}

// orderStatus maps Bitfinex status text to the canonical lifecycle.
// The status field may carry a suffix like "EXECUTED @ 100.0(1.0)".
func orderStatus(s string) domain.OrderStatus {
	switch {
	case hasPrefix(s, "ACTIVE"):
		return domain.OrderStatusActive
	case hasPrefix(s, "PARTIALLY FILLED"):
		return domain.OrderStatusPartiallyFilled
	case hasPrefix(s, "EXECUTED"):
		return domain.OrderStatusComplete
	case hasPrefix(s, "CANCELED"):
		return domain.OrderStatusCanceled
	case hasPrefix(s, "REJECTED"), hasPrefix(s, "INSUFFICIENT"):
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusNew
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// parseOwnTrade decodes an account trade update:
// [ID, PAIR, MTS, ORDER_ID, EXEC_AMOUNT, EXEC_PRICE, _, _, MAKER, FEE,
// FEE_CURRENCY].
func (a *Adapter) parseOwnTrade(raw json.RawMessage) ([]domain.Event, error) {
	var f []json.RawMessage
	if err := json.Unmarshal(raw, &f); err != nil || len(f) < 11 {
		return nil, fmt.Errorf("bitfinex: own trade array: %w", domain.ErrProtocolViolation)
	}

	var (
		orderID               int64
		pair, feeCur          string
		execAmount, execPrice float64
		fee                   float64
	)
	json.Unmarshal(f[1], &pair)
	json.Unmarshal(f[3], &orderID)
	json.Unmarshal(f[4], &execAmount)
	json.Unmarshal(f[5], &execPrice)
	json.Unmarshal(f[9], &fee)
	json.Unmarshal(f[10], &feeCur)

	if fee < 0 {
		fee = -fee
	}
	return []domain.Event{domain.FillEvent{
		ExchangeOrderID: strconv.FormatInt(orderID, 10),
		Pair:            pair,
		Amount:          execAmount,
		Price:           execPrice,
		Fee:             fee,
		FeeCurrency:     feeCur,
	}}, nil
}

// parseWallet decodes [WALLET_TYPE, CURRENCY, BALANCE, ...]. The wire
// carries only the new balance, so the adapter remembers the last seen
// balance per wallet to derive the delta. The first update of a wallet
// after connect has no baseline and reports a zero delta.
func (a *Adapter) parseWallet(raw json.RawMessage) ([]domain.Event, error) {
	var f []json.RawMessage
	if err := json.Unmarshal(raw, &f); err != nil || len(f) < 3 {
		return nil, fmt.Errorf("bitfinex: wallet array: %w", domain.ErrProtocolViolation)
	}
	var (
		account, currency string
		balance           float64
	)
	json.Unmarshal(f[0], &account)
	json.Unmarshal(f[1], &currency)
	json.Unmarshal(f[2], &balance)

	var delta float64
	key := account + ":" + currency
	a.mu.Lock()
	if prev, ok := a.balances[key]; ok {
		delta = balance - prev
	}
	a.balances[key] = balance
	a.mu.Unlock()

	return []domain.Event{domain.WalletUpdateEvent{
		AccountType: account,
		Currency:    currency,
		Balance:     balance,
		Delta:       delta,
	}}, nil
}

// OrderRequest serializes a new order command on channel 0.
func (a *Adapter) OrderRequest(o domain.PendingOrder) ([]byte, error) {
	body := map[string]any{
		"cid":    o.ClientOrderID,
		"type":   "EXCHANGE LIMIT",
		"symbol": o.Pair,
		"amount": strconv.FormatFloat(o.Amount, 'f', -1, 64),
		"price":  strconv.FormatFloat(o.Price, 'f', -1, 64),
	}
	return json.Marshal([]any{0, "on", nil, body})
}
