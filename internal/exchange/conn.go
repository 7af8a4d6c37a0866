package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbehr1/cryptotrader/internal/crypto"
	"github.com/mbehr1/cryptotrader/internal/domain"
	"github.com/mbehr1/cryptotrader/internal/liveness"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// defaultBackoff is the fixed delay before a reconnect attempt.
	defaultBackoff = 5 * time.Second
)

// State is the connection lifecycle phase. Any state can fall back to
// StateDisconnected on transport failure.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateSubscribing
	StateLive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// EventSink receives the account-side events a connection surfaces
// upward: order status, fills, wallet changes, and maintenance
// transitions. The pending-order reconciler is the primary consumer.
type EventSink interface {
	OrderStatus(exchange string, ev domain.OrderStatusEvent)
	Fill(exchange string, ev domain.FillEvent)
	WalletUpdate(exchange string, ev domain.WalletUpdateEvent)
	Maintenance(exchange string, active bool)
}

// Config holds per-exchange connection parameters.
type Config struct {
	Name  string
	WSURL string
	Pairs []string

	// Backoff is the fixed reconnect delay; defaultBackoff when zero.
	Backoff time.Duration

	// LivenessThreshold flags a channel after this long without data.
	LivenessThreshold time.Duration
}

// Conn drives one exchange's connection lifecycle:
// Disconnected → Connecting → Connected → Authenticating → Subscribing
// → Live, reconnecting after a fixed backoff on any transport failure.
// It owns the set of live channels for its exchange and applies every
// normalized event to them in receipt order on a single goroutine.
type Conn struct {
	cfg      Config
	adapter  Adapter
	auth     *crypto.HMACAuth
	monitor  *liveness.Monitor
	sink     EventSink
	logger   *slog.Logger
	channels *Registry

	mu          sync.Mutex
	state       State
	ws          *websocket.Conn
	pendingAcks map[string]struct{}
	inflight    map[string]struct{}
	maintenance bool
}

// New creates a connection for one exchange. auth may be nil for
// public-data-only use.
func New(cfg Config, adapter Adapter, auth *crypto.HMACAuth, monitor *liveness.Monitor, sink EventSink, logger *slog.Logger) *Conn {
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Conn{
		cfg:         cfg,
		adapter:     adapter,
		auth:        auth,
		monitor:     monitor,
		sink:        sink,
		logger:      logger.With(slog.String("component", "conn"), slog.String("exchange", cfg.Name)),
		channels:    NewRegistry(),
		pendingAcks: make(map[string]struct{}),
		inflight:    make(map[string]struct{}),
	}
}

// Name returns the exchange name.
func (c *Conn) Name() string { return c.cfg.Name }

// State returns the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Info("state transition",
			slog.String("from", prev.String()),
			slog.String("to", s.String()),
		)
	}
}

// Run connects and processes messages until ctx is cancelled,
// reconnecting after the configured backoff on every disconnect.
func (c *Conn) Run(ctx context.Context) error {
	for {
		err := c.runSession(ctx)
		c.onDisconnect()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("session ended, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", c.cfg.Backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Backoff):
		}
	}
}

// runSession performs one connect/auth/subscribe/read cycle.
func (c *Conn) runSession(ctx context.Context) error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("exchange %s: dial: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateConnected)

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	}()

	if authenticator, ok := c.adapter.(Authenticator); ok && c.auth != nil {
		c.setState(StateAuthenticating)
		if err := c.send(authenticator.AuthRequest(c.auth)); err != nil {
			return fmt.Errorf("exchange %s: auth request: %w", c.cfg.Name, err)
		}
	} else {
		if err := c.subscribeAll(); err != nil {
			return err
		}
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("exchange %s: read: %w", c.cfg.Name, err)
		}
		c.HandleChannelData("", raw)
	}
}

// subscribeAll issues subscribe requests for all configured pairs and
// enters StateSubscribing. Channels are bound as acks come back.
func (c *Conn) subscribeAll() error {
	c.setState(StateSubscribing)

	c.mu.Lock()
	c.pendingAcks = make(map[string]struct{}, len(c.cfg.Pairs))
	for _, p := range c.cfg.Pairs {
		c.pendingAcks[p] = struct{}{}
	}
	c.mu.Unlock()

	sub, ok := c.adapter.(Subscriber)
	if !ok {
		// No explicit subscribe step: the transport delivers data as-is.
		c.setState(StateLive)
		return nil
	}
	for _, msg := range sub.Subscriptions(c.cfg.Pairs) {
		if err := c.send(msg); err != nil {
			return fmt.Errorf("exchange %s: subscribe: %w", c.cfg.Name, err)
		}
	}
	return nil
}

func (c *Conn) send(msg []byte) error {
	if msg == nil {
		return nil
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return domain.ErrNotConnected
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, msg)
}

// HandleChannelData normalizes and applies one raw message. It returns
// whether any event was applied. A message matching no known variant
// is logged and dropped; the channel state is otherwise unaffected.
func (c *Conn) HandleChannelData(channel string, raw []byte) bool {
	events, err := c.adapter.Parse(channel, raw)
	if err != nil {
		c.logger.Warn("protocol violation, message dropped",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return false
	}
	applied := false
	for _, ev := range events {
		if c.applyEvent(ev) {
			applied = true
		}
	}
	return applied
}

func (c *Conn) applyEvent(ev domain.Event) bool {
	switch e := ev.(type) {
	case domain.SnapshotEvent:
		ch := c.bookChannel(e.Pair)
		ch.Book.ApplySnapshot(e.Side, e.Levels)
		c.monitor.Touch(c.cfg.Name, ch.ID)

	case domain.DeltaEvent:
		ch := c.bookChannel(e.Pair)
		var err error
		if e.Absolute {
			err = ch.Book.ApplyLevel(e.Side, e.Price, e.Count, e.Amount)
		} else {
			err = ch.Book.ApplyDelta(e.Side, e.Price, e.Count, e.Amount)
		}
		if err != nil {
			return false
		}
		c.monitor.Touch(c.cfg.Name, ch.ID)

	case domain.TradeEvent:
		ch := c.tradeChannel(e.Pair)
		ch.Trades.Upsert(e.Trade)
		c.monitor.Touch(c.cfg.Name, ch.ID)

	case domain.HeartbeatEvent:
		if e.ChannelType != "" {
			if ch, ok := c.channels.Get(ChannelID(e.ChannelType, e.Pair)); ok {
				c.monitor.Touch(c.cfg.Name, ch.ID)
			}
			break
		}
		for _, t := range []domain.ChannelType{domain.ChannelBooks, domain.ChannelTrades} {
			if ch, ok := c.channels.Get(ChannelID(t, e.Pair)); ok {
				c.monitor.Touch(c.cfg.Name, ch.ID)
			}
		}

	case domain.SubscriptionAckEvent:
		c.bindChannel(e)

	case domain.UnsubscribeEvent:
		c.dropChannels(e.Pair)

	case domain.SequenceGapEvent:
		c.logger.Warn("sequence gap",
			slog.String("pair", e.Pair),
			slog.Int64("expected", e.Expected),
			slog.Int64("got", e.Got),
		)
		if rs, ok := c.adapter.(Resubscriber); ok {
			for _, msg := range rs.ResubscribeRequests(e.Pair) {
				if err := c.send(msg); err != nil {
					c.logger.Error("resubscribe after gap failed",
						slog.String("pair", e.Pair),
						slog.String("error", err.Error()),
					)
					break
				}
			}
		}

	case domain.AuthEvent:
		if e.OK {
			if err := c.subscribeAll(); err != nil {
				c.logger.Error("subscribe after auth failed", slog.String("error", err.Error()))
				return false
			}
		} else {
			c.logger.Error("authentication failed", slog.String("reason", e.Reason))
			c.closeWS()
		}

	case domain.OrderStatusEvent:
		if c.sink != nil {
			c.sink.OrderStatus(c.cfg.Name, e)
		}

	case domain.FillEvent:
		if c.sink != nil {
			c.sink.Fill(c.cfg.Name, e)
		}

	case domain.WalletUpdateEvent:
		if c.sink != nil {
			c.sink.WalletUpdate(c.cfg.Name, e)
		}

	case domain.MaintenanceEvent:
		c.setMaintenance(e.Active)

	default:
		c.logger.Warn("unhandled event type", slog.Any("event", ev))
		return false
	}
	return true
}

// bindChannel creates the Channel instance for an acked subscription
// and starts its liveness monitoring. Once no acks remain outstanding
// the connection is Live.
func (c *Conn) bindChannel(e domain.SubscriptionAckEvent) {
	ch := NewChannel(c.cfg.Name, e.ChannelType, e.Pair, c.logger)
	c.channels.Put(ch)
	c.monitor.Track(c.cfg.Name, ch.ID, c.cfg.LivenessThreshold)

	c.mu.Lock()
	delete(c.pendingAcks, e.Pair)
	remaining := len(c.pendingAcks)
	subscribing := c.state == StateSubscribing
	c.mu.Unlock()

	c.logger.Info("channel bound",
		slog.String("channel", ch.ID),
		slog.Int64("wire_id", e.ChannelID),
	)
	if remaining == 0 && subscribing {
		c.setState(StateLive)
	}
}

// dropChannels tears down every channel bound to a pair after a
// server-signaled unsubscription. Book and ledger contents are
// discarded, to be rebuilt from the next snapshot.
func (c *Conn) dropChannels(pair string) {
	for _, t := range []domain.ChannelType{domain.ChannelBooks, domain.ChannelTrades, domain.ChannelGeneric, domain.ChannelAccountInfo} {
		id := ChannelID(t, pair)
		if ch, ok := c.channels.Get(id); ok {
			ch.Teardown()
			c.monitor.Untrack(c.cfg.Name, id)
			c.channels.Remove(id)
			c.logger.Info("channel unsubscribed", slog.String("channel", id))
		}
	}
}

// setMaintenance pauses (or resumes) the connection's channels without
// destroying them, and surfaces the transition to consumers.
func (c *Conn) setMaintenance(active bool) {
	c.mu.Lock()
	c.maintenance = active
	c.mu.Unlock()

	for _, ch := range c.channels.All() {
		ch.SetSubscribed(!active)
		if active {
			c.monitor.Untrack(c.cfg.Name, ch.ID)
		} else {
			c.monitor.Track(c.cfg.Name, ch.ID, c.cfg.LivenessThreshold)
		}
	}
	c.logger.Warn("maintenance mode", slog.Bool("active", active))
	if c.sink != nil {
		c.sink.Maintenance(c.cfg.Name, active)
	}
}

// onDisconnect clears in-flight bookkeeping and pauses owned channels.
// Channel instances survive; their contents are rebuilt after
// resubscription.
func (c *Conn) onDisconnect() {
	c.setState(StateDisconnected)
	c.mu.Lock()
	c.ws = nil
	c.pendingAcks = make(map[string]struct{})
	c.inflight = make(map[string]struct{})
	c.mu.Unlock()

	for _, ch := range c.channels.All() {
		ch.SetSubscribed(false)
		c.monitor.Untrack(c.cfg.Name, ch.ID)
	}
}

func (c *Conn) closeWS() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		_ = ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = ws.Close()
	}
}

// BeginRequest registers a logical request key. A second request for
// the same key while one is outstanding is rejected rather than
// queued, to bound outstanding work during reconnect churn.
func (c *Conn) BeginRequest(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[key]; ok {
		return fmt.Errorf("exchange %s: %s: %w", c.cfg.Name, key, domain.ErrDuplicateRequest)
	}
	c.inflight[key] = struct{}{}
	return nil
}

// EndRequest releases a request key. Late or duplicate completions for
// an already-released key are ignored.
func (c *Conn) EndRequest(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

// SendOrder serializes and transmits a new order request. The request
// is deduplicated on the client order id.
func (c *Conn) SendOrder(o domain.PendingOrder) error {
	w, ok := c.adapter.(OrderWriter)
	if !ok {
		return fmt.Errorf("exchange %s: orders unsupported: %w", c.cfg.Name, domain.ErrProtocolViolation)
	}
	key := fmt.Sprintf("order:%d", o.ClientOrderID)
	if err := c.BeginRequest(key); err != nil {
		return err
	}
	defer c.EndRequest(key)

	msg, err := w.OrderRequest(o)
	if err != nil {
		return fmt.Errorf("exchange %s: serialize order %d: %w", c.cfg.Name, o.ClientOrderID, err)
	}
	return c.send(msg)
}

// ---------------------------------------------------------------------------
// Strategy-facing queries
// ---------------------------------------------------------------------------

// ExecutionPrice answers the volume-weighted price query against the
// pair's book channel.
func (c *Conn) ExecutionPrice(pair string, side domain.Side, volume float64) (domain.Quote, error) {
	ch, ok := c.channels.Get(ChannelID(domain.ChannelBooks, pair))
	if !ok {
		return domain.Quote{}, fmt.Errorf("exchange %s: books %s: %w", c.cfg.Name, pair, domain.ErrUnknownChannel)
	}
	return ch.Book.ExecutionPrice(side, volume)
}

// RecentTrades returns the pair's retained trades, newest first.
func (c *Conn) RecentTrades(pair string) ([]domain.Trade, error) {
	ch, ok := c.channels.Get(ChannelID(domain.ChannelTrades, pair))
	if !ok {
		return nil, fmt.Errorf("exchange %s: trades %s: %w", c.cfg.Name, pair, domain.ErrUnknownChannel)
	}
	return ch.Trades.Recent(), nil
}

// Channels exposes the connection's channel registry.
func (c *Conn) Channels() *Registry { return c.channels }

// getOrBind returns the channel, creating and tracking it when data
// arrives for a pair whose ack was implicit (poll transports, or
// exchanges that ack by sending the first snapshot).
func (c *Conn) getOrBind(t domain.ChannelType, pair string) *Channel {
	id := ChannelID(t, pair)
	if ch, ok := c.channels.Get(id); ok {
		return ch
	}
	ch := NewChannel(c.cfg.Name, t, pair, c.logger)
	c.channels.Put(ch)
	c.monitor.Track(c.cfg.Name, ch.ID, c.cfg.LivenessThreshold)
	return ch
}

func (c *Conn) bookChannel(pair string) *Channel {
	return c.getOrBind(domain.ChannelBooks, pair)
}

func (c *Conn) tradeChannel(pair string) *Channel {
	return c.getOrBind(domain.ChannelTrades, pair)
}
