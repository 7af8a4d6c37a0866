package exchange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mbehr1/cryptotrader/internal/sched"
)

// Endpoint is one REST resource a Poller fetches. Channel is passed to
// the adapter as the routing hint for the response body.
type Endpoint struct {
	Channel string
	URL     string
}

// Poller is the transport for full-replace, poll-based exchanges:
// every fetched payload is a complete snapshot, there are no deltas.
// Responses flow through the same HandleChannelData path as WebSocket
// messages. Overlapping fetches of the same endpoint are rejected via
// the connection's in-flight request dedupe.
type Poller struct {
	conn      *Conn
	client    *http.Client
	endpoints []Endpoint
	interval  time.Duration
	logger    *slog.Logger
}

// NewPoller creates a poller feeding the given connection.
func NewPoller(conn *Conn, endpoints []Endpoint, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		conn:      conn,
		client:    &http.Client{Timeout: 10 * time.Second},
		endpoints: endpoints,
		interval:  interval,
		logger:    logger.With(slog.String("component", "poller"), slog.String("exchange", conn.Name())),
	}
}

// Run registers the poll tick and blocks until ctx is cancelled. The
// connection goes Live immediately: poll transports have no handshake.
func (p *Poller) Run(ctx context.Context, s *sched.Scheduler) error {
	p.conn.setState(StateLive)

	task := "poll:" + p.conn.Name()
	s.Every(task, p.interval, func() { p.pollOnce(ctx) })
	defer s.Cancel(task)

	<-ctx.Done()
	p.conn.onDisconnect()
	return ctx.Err()
}

func (p *Poller) pollOnce(ctx context.Context) {
	for _, ep := range p.endpoints {
		key := "poll:" + ep.Channel
		if err := p.conn.BeginRequest(key); err != nil {
			// A previous fetch of this endpoint is still outstanding.
			p.logger.Debug("poll skipped", slog.String("channel", ep.Channel))
			continue
		}
		body, err := p.fetch(ctx, ep.URL)
		p.conn.EndRequest(key)
		if err != nil {
			p.logger.Warn("poll failed",
				slog.String("channel", ep.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.conn.HandleChannelData(ep.Channel, body)
	}
}

func (p *Poller) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("poller: build request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poller: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poller: fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
