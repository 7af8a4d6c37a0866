// Package bitflyer normalizes the bitFlyer Lightning JSON-RPC
// protocol. Board state arrives on two channels per pair: a snapshot
// channel whose messages are authoritative replacements, and a delta
// channel whose messages carry the new absolute size of each touched
// level. Deltas received before the first snapshot are dropped.
package bitflyer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

const (
	chanBoardSnapshot = "lightning_board_snapshot_"
	chanBoard         = "lightning_board_"
	chanExecutions    = "lightning_executions_"
)

// Adapter tracks which pairs have received their first authoritative
// snapshot and maps JSON-RPC request ids back to the channels they
// subscribed. All state is rebuilt after a reconnect.
type Adapter struct {
	logger *slog.Logger

	mu        sync.Mutex
	baselined map[string]bool
	pending   map[int64]pendingSub
	nextID    int64
}

type pendingSub struct {
	pair string
	kind domain.ChannelType
}

func New(logger *slog.Logger) *Adapter {
	return &Adapter{
		logger:    logger.With(slog.String("component", "bitflyer")),
		baselined: make(map[string]bool),
		pending:   make(map[int64]pendingSub),
		nextID:    1,
	}
}

func (a *Adapter) Name() string { return "bitflyer" }

// Subscriptions returns subscribe commands for the snapshot, board and
// executions channels of every pair.
func (a *Adapter) Subscriptions(pairs []string) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out [][]byte
	for _, p := range pairs {
		for _, sub := range []struct {
			channel string
			kind    domain.ChannelType
		}{
			{chanBoardSnapshot + p, domain.ChannelBooks},
			{chanBoard + p, domain.ChannelBooks},
			{chanExecutions + p, domain.ChannelTrades},
		} {
			id := a.nextID
			a.nextID++
			a.pending[id] = pendingSub{pair: p, kind: sub.kind}
			msg, _ := json.Marshal(map[string]any{
				"jsonrpc": "2.0",
				"method":  "subscribe",
				"params":  map[string]string{"channel": sub.channel},
				"id":      id,
			})
			out = append(out, msg)
		}
	}
	return out
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

type channelParams struct {
	Channel string          `json:"channel"`
	Message json.RawMessage `json:"message"`
}

// Parse normalizes one raw message: subscribe results, channelMessage
// notifications, or server errors.
func (a *Adapter) Parse(_ string, raw []byte) ([]domain.Event, error) {
	var msg rpcMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("bitflyer: message: %w", domain.ErrProtocolViolation)
	}

	if msg.Error != nil {
		return nil, fmt.Errorf("bitflyer: server error %d %s: %w",
			msg.Error.Code, msg.Error.Message, domain.ErrProtocolViolation)
	}

	if msg.ID != nil {
		return a.parseResult(*msg.ID, msg.Result)
	}

	if msg.Method != "channelMessage" {
		return nil, nil
	}
	var params channelParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("bitflyer: params: %w", domain.ErrProtocolViolation)
	}

	switch {
	case strings.HasPrefix(params.Channel, chanBoardSnapshot):
		pair := strings.TrimPrefix(params.Channel, chanBoardSnapshot)
		return a.parseBoard(pair, params.Message, true)
	case strings.HasPrefix(params.Channel, chanBoard):
		pair := strings.TrimPrefix(params.Channel, chanBoard)
		return a.parseBoard(pair, params.Message, false)
	case strings.HasPrefix(params.Channel, chanExecutions):
		pair := strings.TrimPrefix(params.Channel, chanExecutions)
		return a.parseExecutions(pair, params.Message)
	}
	return nil, fmt.Errorf("bitflyer: channel %q: %w", params.Channel, domain.ErrUnknownChannel)
}

func (a *Adapter) parseResult(id int64, result json.RawMessage) ([]domain.Event, error) {
	a.mu.Lock()
	sub, ok := a.pending[id]
	delete(a.pending, id)
	a.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var accepted bool
	if err := json.Unmarshal(result, &accepted); err != nil || !accepted {
		return nil, fmt.Errorf("bitflyer: subscribe %s rejected: %w", sub.pair, domain.ErrProtocolViolation)
	}
	return []domain.Event{domain.SubscriptionAckEvent{
		Pair:        sub.pair,
		ChannelType: sub.kind,
	}}, nil
}

type boardMsg struct {
	MidPrice float64      `json:"mid_price"`
	Bids     []boardLevel `json:"bids"`
	Asks     []boardLevel `json:"asks"`
}

type boardLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// parseBoard handles both snapshot and delta board messages. A
// snapshot replaces the book and establishes the baseline for the
// pair; deltas before that baseline are dropped, never applied.
func (a *Adapter) parseBoard(pair string, raw json.RawMessage, complete bool) ([]domain.Event, error) {
	var board boardMsg
	if err := json.Unmarshal(raw, &board); err != nil {
		return nil, fmt.Errorf("bitflyer: board: %w", domain.ErrProtocolViolation)
	}

	if complete {
		a.mu.Lock()
		a.baselined[pair] = true
		a.mu.Unlock()
		now := time.Now()
		return []domain.Event{
			domain.SnapshotEvent{Pair: pair, Side: domain.SideBid, Levels: snapshotLevels(board.Bids), Timestamp: now},
			domain.SnapshotEvent{Pair: pair, Side: domain.SideAsk, Levels: snapshotLevels(board.Asks), Timestamp: now},
		}, nil
	}

	a.mu.Lock()
	ready := a.baselined[pair]
	a.mu.Unlock()
	if !ready {
		a.logger.Debug("dropping delta before snapshot", slog.String("pair", pair))
		return nil, nil
	}

	events := make([]domain.Event, 0, len(board.Bids)+len(board.Asks))
	for _, l := range board.Bids {
		events = append(events, deltaEvent(pair, domain.SideBid, l))
	}
	for _, l := range board.Asks {
		events = append(events, deltaEvent(pair, domain.SideAsk, l))
	}
	return events, nil
}

func snapshotLevels(rows []boardLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(rows))
	for _, l := range rows {
		if l.Size == 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: l.Price, Count: 1, Amount: l.Size})
	}
	return out
}

// deltaEvent carries the level's new absolute size. Size 0 removes the
// level.
func deltaEvent(pair string, side domain.Side, l boardLevel) domain.DeltaEvent {
	count := int64(1)
	if l.Size == 0 {
		count = 0
	}
	return domain.DeltaEvent{
		Pair:     pair,
		Side:     side,
		Price:    l.Price,
		Count:    count,
		Amount:   l.Size,
		Absolute: true,
	}
}

type execution struct {
	ID       int64   `json:"id"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	ExecDate string  `json:"exec_date"`
}

// parseExecutions decodes a batch of public executions. SELL
// executions carry a negative signed amount.
func (a *Adapter) parseExecutions(pair string, raw json.RawMessage) ([]domain.Event, error) {
	var execs []execution
	if err := json.Unmarshal(raw, &execs); err != nil {
		return nil, fmt.Errorf("bitflyer: executions: %w", domain.ErrProtocolViolation)
	}

	events := make([]domain.Event, 0, len(execs))
	for _, e := range execs {
		amount := e.Size
		if strings.EqualFold(e.Side, "SELL") {
			amount = -amount
		}
		ts, err := time.Parse(time.RFC3339Nano, e.ExecDate)
		if err != nil {
			ts = time.Now()
		}
		events = append(events, domain.TradeEvent{
			Pair: pair,
			Trade: domain.Trade{
				ID:        e.ID,
				Timestamp: ts,
				Amount:    amount,
				Price:     e.Price,
			},
		})
	}
	return events, nil
}
