// Package binance normalizes the Binance REST polling format. There
// are no deltas: every depth response is a complete snapshot of both
// sides, and trades arrive as a batch array. Payloads do not
// self-identify, so routing relies on the channel hint supplied by the
// poll transport.
package binance

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mbehr1/cryptotrader/internal/domain"
	"github.com/mbehr1/cryptotrader/internal/exchange"
)

// Adapter is stateless: full-replace snapshots need no baseline or
// channel-id tracking.
type Adapter struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger.With(slog.String("component", "binance"))}
}

func (a *Adapter) Name() string { return "binance" }

// DepthChannel and TradesChannel build the channel hints the poll
// transport attaches to its endpoints.
func DepthChannel(pair string) string  { return "depth:" + pair }
func TradesChannel(pair string) string { return "trades:" + pair }

// Parse normalizes one polled response body. The channel hint selects
// the payload shape.
func (a *Adapter) Parse(channel string, raw []byte) ([]domain.Event, error) {
	kind, pair, ok := strings.Cut(channel, ":")
	if !ok || pair == "" {
		return nil, fmt.Errorf("binance: channel hint %q: %w", channel, domain.ErrUnknownChannel)
	}

	switch kind {
	case "depth":
		return a.parseDepth(pair, raw)
	case "trades":
		return a.parseTrades(pair, raw)
	}
	return nil, fmt.Errorf("binance: channel hint %q: %w", channel, domain.ErrUnknownChannel)
}

type depthMsg struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// parseDepth reduces a depth response to two snapshot events replacing
// both book sides wholesale.
func (a *Adapter) parseDepth(pair string, raw []byte) ([]domain.Event, error) {
	var msg depthMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("binance: depth: %w", domain.ErrProtocolViolation)
	}

	bids, err := snapshotLevels(msg.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := snapshotLevels(msg.Asks)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return []domain.Event{
		domain.SnapshotEvent{Pair: pair, Side: domain.SideBid, Levels: bids, Timestamp: now},
		domain.SnapshotEvent{Pair: pair, Side: domain.SideAsk, Levels: asks, Timestamp: now},
	}, nil
}

func snapshotLevels(rows [][2]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(rows))
	for _, row := range rows {
		price, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("binance: level price %q: %w", row[0], domain.ErrProtocolViolation)
		}
		qty, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("binance: level qty %q: %w", row[1], domain.ErrProtocolViolation)
		}
		if qty == 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Count: 1, Amount: qty})
	}
	return out, nil
}

type tradeRow struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

// parseTrades decodes a batch of recent trades. isBuyerMaker means the
// taker sold, so those trades carry a negative signed amount.
func (a *Adapter) parseTrades(pair string, raw []byte) ([]domain.Event, error) {
	var rows []tradeRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("binance: trades: %w", domain.ErrProtocolViolation)
	}

	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		price, err := strconv.ParseFloat(row.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: trade price %q: %w", row.Price, domain.ErrProtocolViolation)
		}
		amount, err := strconv.ParseFloat(row.Qty, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: trade qty %q: %w", row.Qty, domain.ErrProtocolViolation)
		}
		if row.IsBuyerMaker {
			amount = -amount
		}
		events = append(events, domain.TradeEvent{
			Pair: pair,
			Trade: domain.Trade{
				ID:        row.ID,
				Timestamp: time.UnixMilli(row.Time),
				Amount:    amount,
				Price:     price,
			},
		})
	}
	return events, nil
}

// Endpoints builds the poll endpoints for a pair against the given
// REST base URL.
func Endpoints(baseURL, pair string) []exchange.Endpoint {
	return []exchange.Endpoint{
		{Channel: DepthChannel(pair), URL: baseURL + "/api/v3/depth?limit=100&symbol=" + pair},
		{Channel: TradesChannel(pair), URL: baseURL + "/api/v3/trades?limit=100&symbol=" + pair},
	}
}
