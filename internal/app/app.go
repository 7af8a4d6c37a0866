// Package app provides the top-level application lifecycle. It wires
// together the shared infrastructure (settings store, order history,
// trade archive, notifications) and one runtime per enabled exchange,
// then runs everything until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mbehr1/cryptotrader/internal/config"
	"github.com/mbehr1/cryptotrader/internal/crypto"
	"github.com/mbehr1/cryptotrader/internal/domain"
	"github.com/mbehr1/cryptotrader/internal/exchange"
	"github.com/mbehr1/cryptotrader/internal/exchange/binance"
	"github.com/mbehr1/cryptotrader/internal/exchange/bitfinex"
	"github.com/mbehr1/cryptotrader/internal/exchange/bitflyer"
	"github.com/mbehr1/cryptotrader/internal/exchange/hitbtc"
	"github.com/mbehr1/cryptotrader/internal/liveness"
	"github.com/mbehr1/cryptotrader/internal/notify"
	"github.com/mbehr1/cryptotrader/internal/reconcile"
	"github.com/mbehr1/cryptotrader/internal/sched"
)

// completionArchiveBatch bounds the number of history rows included in
// one monthly completions snapshot.
const completionArchiveBatch = 1000

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions that are called in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()

	mu       sync.Mutex
	runtimes map[string]*exchangeRuntime
}

// exchangeRuntime pairs one exchange's connection with its order
// reconciler.
type exchangeRuntime struct {
	conn *exchange.Conn
	rec  *reconcile.Reconciler
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "app")),
		runtimes: make(map[string]*exchangeRuntime),
	}
}

// Run is the main entry point. It wires all dependencies, starts one
// runtime per enabled exchange plus the shared scheduler and liveness
// monitor, and blocks until the context is cancelled. On return it runs
// all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	scheduler := sched.New(a.logger)
	a.closers = append(a.closers, scheduler.Close)

	monitor := liveness.New(deps.Notifier.ChannelTimeout, a.logger)
	monitor.Start(scheduler, liveness.DefaultTick)

	g, gctx := errgroup.WithContext(ctx)

	for name, ex := range a.cfg.Exchanges {
		if !ex.Enabled {
			continue
		}
		rt, err := a.startExchange(gctx, g, name, ex, deps, scheduler, monitor)
		if err != nil {
			a.Close()
			return fmt.Errorf("app: start %s: %w", name, err)
		}
		a.mu.Lock()
		a.runtimes[name] = rt
		a.mu.Unlock()
	}

	if deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		scheduler.Every("archive", interval, func() {
			a.archiveOnce(gctx, deps)
		})
	}

	err = g.Wait()
	a.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startExchange builds the adapter, connection, and reconciler for one
// exchange and registers its run loop with the errgroup.
func (a *App) startExchange(ctx context.Context, g *errgroup.Group, name string, ex config.ExchangeConfig, deps *Dependencies, scheduler *sched.Scheduler, monitor *liveness.Monitor) (*exchangeRuntime, error) {
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     ex.APISecret,
		EncryptedPath: ex.EncryptedSecretPath,
		Password:      ex.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load secret: %w", err)
	}
	var auth *crypto.HMACAuth
	if ex.APIKey != "" && secret != "" {
		auth = &crypto.HMACAuth{Key: ex.APIKey, Secret: secret}
	}

	var adapter exchange.Adapter
	switch name {
	case "bitfinex":
		adapter = bitfinex.New(a.logger)
	case "bitflyer":
		adapter = bitflyer.New(a.logger)
	case "hitbtc":
		adapter = hitbtc.New(a.logger, ex.StrictSequence)
	case "binance":
		adapter = binance.New(a.logger)
	default:
		return nil, fmt.Errorf("no adapter for exchange %q", name)
	}

	var history reconcile.History
	if deps.History != nil {
		history = deps.History
	}
	rec, err := reconcile.New(reconcile.Config{
		Exchange: name,
		FeeRate:  ex.FeeRate,
		FeeGrace: ex.FeeGrace.Duration,
	}, deps.Settings, scheduler, deps.Notifier, history, a.logger)
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	conn := exchange.New(exchange.Config{
		Name:              name,
		WSURL:             ex.WSURL,
		Pairs:             ex.Pairs,
		Backoff:           ex.ReconnectBackoff.Duration,
		LivenessThreshold: ex.LivenessThreshold.Duration,
	}, adapter, auth, monitor, &accountSink{rec: rec, notifier: deps.Notifier}, a.logger)

	if config.PollBased(name) {
		var endpoints []exchange.Endpoint
		for _, pair := range ex.Pairs {
			endpoints = append(endpoints, binance.Endpoints(ex.RESTURL, pair)...)
		}
		poller := exchange.NewPoller(conn, endpoints, ex.PollInterval.Duration, a.logger)
		g.Go(func() error { return poller.Run(ctx, scheduler) })
	} else {
		g.Go(func() error { return conn.Run(ctx) })
	}

	return &exchangeRuntime{conn: conn, rec: rec}, nil
}

// archiveOnce uploads the current trade ledger of every live trade
// channel, plus a completions snapshot per exchange when the history
// store is enabled. Failures are logged and retried on the next tick.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) {
	a.mu.Lock()
	runtimes := make(map[string]*exchangeRuntime, len(a.runtimes))
	for name, rt := range a.runtimes {
		runtimes[name] = rt
	}
	a.mu.Unlock()

	for name, rt := range runtimes {
		for _, ch := range rt.conn.Channels().All() {
			if ch.Type != domain.ChannelTrades || ch.Trades == nil {
				continue
			}
			path, count, err := deps.Archiver.ArchiveTrades(ctx, name, ch.Pair, ch.Trades)
			if err != nil {
				a.logger.Error("trade archive failed",
					slog.String("exchange", name),
					slog.String("pair", ch.Pair),
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.Info("trades archived",
					slog.String("exchange", name),
					slog.String("pair", ch.Pair),
					slog.String("path", path),
					slog.Int64("count", count),
				)
			}
		}

		if deps.History == nil {
			continue
		}
		entries, err := deps.History.Recent(ctx, name, completionArchiveBatch)
		if err != nil {
			a.logger.Error("completion archive query failed",
				slog.String("exchange", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		completions := make([]domain.OrderCompletion, len(entries))
		for i, e := range entries {
			completions[i] = e.OrderCompletion
		}
		if _, err := deps.Archiver.ArchiveCompletions(ctx, name, completions); err != nil {
			a.logger.Error("completion archive failed",
				slog.String("exchange", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SubmitOrder places a limit order on the named exchange. The order is
// persisted before submission and tracked to completion by the
// exchange's reconciler.
func (a *App) SubmitOrder(ctx context.Context, exchangeName, pair string, amount, price float64) (int64, error) {
	rt, err := a.runtime(exchangeName)
	if err != nil {
		return 0, err
	}
	return rt.rec.Submit(ctx, rt.conn, pair, amount, price)
}

// ExecutionPrice returns the volume-weighted price quote for taking the
// given volume from the named exchange's book.
func (a *App) ExecutionPrice(exchangeName, pair string, side domain.Side, volume float64) (domain.Quote, error) {
	rt, err := a.runtime(exchangeName)
	if err != nil {
		return domain.Quote{}, err
	}
	return rt.conn.ExecutionPrice(pair, side, volume)
}

// RecentTrades returns the retained public trades for a pair on the
// named exchange, newest first.
func (a *App) RecentTrades(exchangeName, pair string) ([]domain.Trade, error) {
	rt, err := a.runtime(exchangeName)
	if err != nil {
		return nil, err
	}
	return rt.conn.RecentTrades(pair)
}

func (a *App) runtime(name string) (*exchangeRuntime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rt, ok := a.runtimes[name]
	if !ok {
		return nil, fmt.Errorf("app: exchange %q is not running", name)
	}
	return rt, nil
}

// Close tears down all resources in reverse registration order. It is
// safe to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// accountSink routes a connection's account events into the exchange's
// reconciler and the notifier.
type accountSink struct {
	rec      *reconcile.Reconciler
	notifier *notify.Notifier
}

func (s *accountSink) OrderStatus(exchange string, ev domain.OrderStatusEvent) {
	s.rec.HandleOrderStatus(context.Background(), ev)
}

func (s *accountSink) Fill(exchange string, ev domain.FillEvent) {
	s.rec.HandleFill(context.Background(), ev)
}

func (s *accountSink) WalletUpdate(exchange string, ev domain.WalletUpdateEvent) {
	s.notifier.WalletUpdate(exchange, ev)
}

func (s *accountSink) Maintenance(exchange string, active bool) {
	s.notifier.Maintenance(exchange, active)
}
