// Package liveness detects silently stalled channels. Each tracked
// channel keeps the time of its last inbound message; a fixed tick
// compares that against the channel's timeout threshold and emits
// edge-triggered notifications on transitions.
package liveness

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mbehr1/cryptotrader/internal/domain"
	"github.com/mbehr1/cryptotrader/internal/sched"
)

const (
	// DefaultTick is the interval at which tracked channels are checked.
	DefaultTick = time.Second
	// DefaultThreshold flags a channel after this long without a message.
	DefaultThreshold = 30 * time.Second
)

// NotifyFunc receives edge-triggered timeout transitions.
type NotifyFunc func(domain.ChannelTimeout)

type state struct {
	exchange  string
	channel   string
	threshold time.Duration
	lastMsg   time.Time
	timedOut  bool
}

// Monitor tracks per-channel liveness. Untracked (unsubscribed)
// channels are excluded from the tick entirely, so an intentionally
// offline channel never flaps.
type Monitor struct {
	logger *slog.Logger
	notify NotifyFunc

	mu       sync.Mutex
	channels map[string]*state
}

// New creates a monitor that delivers transitions to notify.
func New(notify NotifyFunc, logger *slog.Logger) *Monitor {
	return &Monitor{
		logger:   logger.With(slog.String("component", "liveness")),
		notify:   notify,
		channels: make(map[string]*state),
	}
}

// Start registers the periodic check on the scheduler.
func (m *Monitor) Start(s *sched.Scheduler, tick time.Duration) {
	if tick <= 0 {
		tick = DefaultTick
	}
	s.Every("liveness", tick, func() { m.check(time.Now()) })
}

func key(exchange, channel string) string { return exchange + "/" + channel }

// Track begins monitoring a channel. threshold <= 0 uses
// DefaultThreshold. Tracking an already-tracked channel resets it.
func (m *Monitor) Track(exchange, channel string, threshold time.Duration) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m.mu.Lock()
	m.channels[key(exchange, channel)] = &state{
		exchange:  exchange,
		channel:   channel,
		threshold: threshold,
		lastMsg:   time.Now(),
	}
	m.mu.Unlock()
}

// Untrack stops monitoring a channel without emitting a transition.
func (m *Monitor) Untrack(exchange, channel string) {
	m.mu.Lock()
	delete(m.channels, key(exchange, channel))
	m.mu.Unlock()
}

// Touch records an inbound message for the channel. If the channel was
// flagged timed out, the flag clears and a single timeout-became-false
// notification is emitted.
func (m *Monitor) Touch(exchange, channel string) {
	m.mu.Lock()
	st, ok := m.channels[key(exchange, channel)]
	var cleared bool
	if ok {
		st.lastMsg = time.Now()
		if st.timedOut {
			st.timedOut = false
			cleared = true
		}
	}
	m.mu.Unlock()

	if cleared {
		m.logger.Info("channel recovered",
			slog.String("exchange", exchange),
			slog.String("channel", channel),
		)
		m.notify(domain.ChannelTimeout{Exchange: exchange, Channel: channel, TimedOut: false})
	}
}

// LastMessageTime returns the time of the last message seen for the
// channel, or ok == false when the channel is not tracked.
func (m *Monitor) LastMessageTime(exchange, channel string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.channels[key(exchange, channel)]
	if !ok {
		return time.Time{}, false
	}
	return st.lastMsg, true
}

// IsTimedOut reports the current timeout flag for the channel.
func (m *Monitor) IsTimedOut(exchange, channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.channels[key(exchange, channel)]
	return ok && st.timedOut
}

// check flags channels whose last message is older than their
// threshold. The flag is edge-triggered: a channel already flagged is
// not re-notified while still stale.
func (m *Monitor) check(now time.Time) {
	var fired []domain.ChannelTimeout

	m.mu.Lock()
	for _, st := range m.channels {
		if st.timedOut {
			continue
		}
		if now.Sub(st.lastMsg) > st.threshold {
			st.timedOut = true
			fired = append(fired, domain.ChannelTimeout{
				Exchange: st.exchange,
				Channel:  st.channel,
				TimedOut: true,
			})
		}
	}
	m.mu.Unlock()

	for _, n := range fired {
		m.logger.Warn("channel timed out",
			slog.String("exchange", n.Exchange),
			slog.String("channel", n.Channel),
		)
		m.notify(n)
	}
}
