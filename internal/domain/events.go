package domain

import "time"

// Event is implemented by every normalized exchange event. Adapters
// reduce each exchange's wire format to this closed set; the book,
// ledger and reconciler never see exchange-specific shapes.
type Event interface {
	event()
}

// SnapshotEvent replaces one side of a channel's book wholesale.
type SnapshotEvent struct {
	Pair      string
	Side      Side
	Levels    []PriceLevel
	Timestamp time.Time
}

// DeltaEvent is an incremental update to one price level.
// Count == 0 deletes the level; Count < 0 is a protocol violation that
// adapters must not emit. Absolute marks Count/Amount as the level's
// new totals (exchanges that send full level state per delta) instead
// of increments to accumulate.
type DeltaEvent struct {
	Pair     string
	Side     Side
	Price    float64
	Count    int64
	Amount   float64
	Absolute bool
}

// TradeEvent carries one public trade for a channel.
type TradeEvent struct {
	Pair  string
	Trade Trade
}

// HeartbeatEvent is periodic evidence that a channel is alive without
// carrying data. ChannelType attributes the heartbeat to exactly one
// of the pair's channels; adapters whose wire protocol heartbeats per
// server channel must set it so a live trades stream cannot mask a
// dead book stream. An empty ChannelType refreshes every channel of
// the pair (pair-scoped heartbeats).
type HeartbeatEvent struct {
	Pair        string
	ChannelType ChannelType
}

// SubscriptionAckEvent confirms a channel subscription. ChannelID is
// the exchange-assigned numeric id when the wire protocol uses one.
type SubscriptionAckEvent struct {
	Pair        string
	ChannelType ChannelType
	ChannelID   int64
}

// UnsubscribeEvent signals a server-side unsubscription of a channel.
type UnsubscribeEvent struct {
	Pair string
}

// SequenceGapEvent reports a hole in a sequence-numbered stream. The
// adapter has already re-baselined (or requested a resubscribe in
// strict mode); the event exists for logging and monitoring.
type SequenceGapEvent struct {
	Pair     string
	Expected int64
	Got      int64
}

// OrderStatusEvent is an asynchronous order state report. The first
// status event for a client id binds the exchange-side order id.
type OrderStatusEvent struct {
	ClientOrderID   int64
	ExchangeOrderID string
	Pair            string
	Amount          float64
	Price           float64
	Status          OrderStatus
	Reason          string
}

// FillEvent is an execution/fee report. It references the
// exchange-side order id only.
type FillEvent struct {
	ExchangeOrderID string
	Pair            string
	Amount          float64
	Price           float64
	Fee             float64
	FeeCurrency     string
}

// WalletUpdateEvent is a balance change on an exchange account.
type WalletUpdateEvent struct {
	AccountType string
	Currency    string
	Balance     float64
	Delta       float64
}

// MaintenanceEvent signals server maintenance mode starting or ending.
// Channels are paused, not destroyed, while maintenance is active.
type MaintenanceEvent struct {
	Active bool
}

// AuthEvent reports the outcome of session authentication. A failed
// auth is fatal for the current session; the connection restarts via
// the reconnect path with the same credentials.
type AuthEvent struct {
	OK     bool
	Reason string
}

func (SnapshotEvent) event()        {}
func (DeltaEvent) event()           {}
func (TradeEvent) event()           {}
func (HeartbeatEvent) event()       {}
func (SubscriptionAckEvent) event() {}
func (UnsubscribeEvent) event()     {}
func (SequenceGapEvent) event()     {}
func (OrderStatusEvent) event()     {}
func (FillEvent) event()            {}
func (WalletUpdateEvent) event()    {}
func (MaintenanceEvent) event()     {}
func (AuthEvent) event()            {}

// ChannelType is the closed set of channel variants.
type ChannelType string

const (
	ChannelGeneric     ChannelType = "generic"
	ChannelBooks       ChannelType = "books"
	ChannelTrades      ChannelType = "trades"
	ChannelAccountInfo ChannelType = "account"
)

// ChannelTimeout is the edge-triggered liveness notification surfaced
// to strategy consumers.
type ChannelTimeout struct {
	Exchange string
	Channel  string
	TimedOut bool
}
