// Command backend implements the "backend run [--workers N]" entry point:
// a single orchestrator process that exposes the admin/health/websocket API
// and supervises the event handler, the UI fan-out hub, and a bounded pool
// of in-process deployment and backtest workers.
//
// Grounded on cmd/dashboard/main.go's bare net/http mux + background-
// goroutine shape, generalized onto gin-gonic/gin for the admin surface,
// and on cmd/engine/main.go's config/logger bootstrap and signal-based
// graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nitinkhare/tradeforge/internal/backtest"
	"github.com/nitinkhare/tradeforge/internal/broker"
	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/config"
	"github.com/nitinkhare/tradeforge/internal/deployment"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/eventhandler"
	"github.com/nitinkhare/tradeforge/internal/metrics"
	"github.com/nitinkhare/tradeforge/internal/ohlcstore"
	"github.com/nitinkhare/tradeforge/internal/storage"
	"github.com/nitinkhare/tradeforge/internal/strategy"
	"github.com/nitinkhare/tradeforge/internal/telemetry"
	"github.com/nitinkhare/tradeforge/internal/webhook"
	"github.com/nitinkhare/tradeforge/internal/wsfan"
)

const pollInterval = 2 * time.Second

func main() {
	fs := flag.NewFlagSet("backend run", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to configuration file")
	strategiesDir := fs.String("strategies-dir", "strategies", "directory of compiled strategy program JSON files")
	workers := fs.Int("workers", 4, "number of concurrent deployment/backtest workers")
	addr := fs.String("addr", ":8080", "address the admin API listens on")
	confirmLive := fs.Bool("confirm-live", false, "required alongside ALGO_LIVE_CONFIRMED=true when mode is live")

	if len(os.Args) < 2 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: backend run [--workers N]")
		os.Exit(1)
	}
	fs.Parse(os.Args[2:])
	if *workers < 1 {
		fmt.Fprintln(os.Stderr, "backend run: --workers must be at least 1")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: load config: %v\n", err)
		os.Exit(1)
	}
	// The worker pool claims and runs whatever deployments are pending for
	// the lifetime of this process, so the live confirmation gate is
	// checked once at startup rather than per claimed row.
	if err := config.RequireLiveConfirmation(cfg.Mode, *confirmLive, os.Getenv("ALGO_LIVE_CONFIRMED")); err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}

	log, err := telemetry.New(cfg.Logging, "backend")
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer redisClient.Close()
	b := bus.NewRedisBus(redisClient, log)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to candle database")
	}
	defer pool.Close()
	candles := ohlcstore.NewPostgresStore(pool)

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to relational store")
	}
	defer store.Close()

	programs, err := strategy.LoadDir(*strategiesDir)
	if err != nil {
		log.Fatal().Err(err).Msg("load strategy programs")
	}

	reg := metrics.New()
	hub := wsfan.NewHub(b, []string{
		events.ChannelCandlesClose,
		events.ChannelOrdersEvents,
		events.ChannelSnapshotsEvents,
		events.ChannelDeploymentEvents,
	}, log)
	evh := eventhandler.New(b, store, log)
	pool2 := &workerPool{store: store, bus: b, candles: candles, programs: programs, cfg: cfg, log: log, size: *workers}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return evh.Listen(gctx) })
	g.Go(func() error { return pool2.run(gctx) })
	g.Go(func() error { return serveAPI(gctx, *addr, store, reg, hub, log) })
	if cfg.Webhook.Enabled {
		g.Go(func() error { return runWebhookServer(gctx, cfg.Webhook, b, log) })
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Error().Err(err).Msg("backend stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("backend stopped cleanly")
}

// serveAPI runs the admin HTTP surface until ctx is cancelled, then shuts
// the server down gracefully.
func serveAPI(ctx context.Context, addr string, store storage.Store, reg *metrics.Registry, hub *wsfan.Hub, log zerolog.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})))
	router.GET("/ws", gin.WrapH(hub))

	srv := &http.Server{Addr: addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("admin API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWebhookServer starts the order-postback receiver and republishes every
// update it gets as an order_modified event on orders.events, so a venue
// push and a GetOrderStatus poll both land on the same path the event
// handler already consumes.
func runWebhookServer(ctx context.Context, cfg config.WebhookConfig, b bus.Bus, log zerolog.Logger) error {
	srv := webhook.NewServer(webhook.Config{Port: cfg.Port, Path: cfg.Path, Enabled: cfg.Enabled}, log)
	srv.OnOrderUpdate(func(update webhook.OrderUpdate) {
		evt := events.OrderEvent{
			Type:          events.OrderEventModified,
			Timestamp:     update.ReceivedAt.Unix(),
			OrderID:       update.OrderID,
			ClientOrderID: update.ClientOrderID,
			Symbol:        update.Symbol,
			Side:          update.Side,
			Quantity:      decimal.NewFromInt(update.Quantity),
			FilledQuantity: decimal.NewFromInt(update.FilledQty),
			Status:        string(update.Status),
			Success:       update.ErrorCode == "",
		}
		if update.AveragePrice != 0 {
			avg := decimal.NewFromFloat(update.AveragePrice)
			evt.AvgFillPrice = &avg
		}
		publishCtx, cancel := context.WithTimeout(ctx, bus.PublishTimeout)
		defer cancel()
		if err := bus.PublishJSON(publishCtx, b, events.ChannelOrdersEvents, evt); err != nil {
			log.Error().Err(err).Str("order_id", update.OrderID).Msg("publish webhook order update")
		}
	})

	if err := srv.Start(); err != nil {
		return fmt.Errorf("webhook server: %w", err)
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// workerPool runs the deployment-runtime and backtest worker pools as a
// bounded set of in-process goroutines that poll storage for pending rows,
// rather than separate OS processes: cmd/backtest and cmd/deployment remain
// available as standalone single-run binaries for operators who want
// per-run process isolation, sharing the same internal/backtest and
// internal/deployment packages this pool calls directly.
type workerPool struct {
	store    storage.Store
	bus      bus.Bus
	candles  ohlcstore.Store
	programs *strategy.Registry
	cfg      *config.Config
	log      zerolog.Logger
	size     int
}

func (p *workerPool) run(ctx context.Context) error {
	sem := make(chan struct{}, p.size)
	var wg sync.WaitGroup
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			p.dispatch(ctx, sem, &wg)
		}
	}
}

func (p *workerPool) dispatch(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	free := p.size - len(sem)
	if free <= 0 {
		return
	}

	deploymentIDs, err := p.store.ListPendingDeploymentIDs(ctx, free)
	if err != nil {
		p.log.Error().Err(err).Msg("list pending deployments")
		deploymentIDs = nil
	}
	for _, id := range deploymentIDs {
		select {
		case sem <- struct{}{}:
		default:
			return
		}
		wg.Add(1)
		go func(deploymentID string) {
			defer wg.Done()
			defer func() { <-sem }()
			p.runDeployment(ctx, deploymentID)
		}(id)
	}

	free = p.size - len(sem)
	if free <= 0 {
		return
	}
	backtestIDs, err := p.store.ListPendingBacktestIDs(ctx, free)
	if err != nil {
		p.log.Error().Err(err).Msg("list pending backtests")
		return
	}
	for _, id := range backtestIDs {
		select {
		case sem <- struct{}{}:
		default:
			return
		}
		wg.Add(1)
		go func(backtestID string) {
			defer wg.Done()
			defer func() { <-sem }()
			p.runBacktest(ctx, backtestID)
		}(id)
	}
}

func (p *workerPool) runDeployment(ctx context.Context, deploymentID string) {
	runner := deployment.NewRunner(p.store, p.bus, p.programs, p.brokerFactory(), p.log)
	if err := runner.Run(ctx, deploymentID); err != nil {
		p.log.Error().Err(err).Str("deployment_id", deploymentID).Msg("deployment worker failed")
	}
}

func (p *workerPool) runBacktest(ctx context.Context, backtestID string) {
	if p.cfg.HistoricalSource == "" {
		p.log.Error().Str("backtest_id", backtestID).Msg("backtest worker: no historical_source configured, skipping")
		return
	}

	row, err := p.store.GetBacktest(ctx, backtestID)
	if err != nil {
		p.log.Error().Err(err).Str("backtest_id", backtestID).Msg("backtest worker: load row")
		return
	}
	if err := p.store.SetBacktestStatus(ctx, backtestID, storage.BacktestRunning, nil); err != nil {
		p.log.Error().Err(err).Str("backtest_id", backtestID).Msg("backtest worker: mark running")
		return
	}

	engine := backtest.NewEngine(p.candles, p.programs, p.log)
	metricsOut, runErr := engine.Run(ctx, backtest.Request{
		BacktestID:      row.BacktestID,
		StrategyID:      row.StrategyID,
		Source:          p.cfg.HistoricalSource,
		Symbol:          row.Symbol,
		Timeframe:       row.Timeframe,
		StartDate:       row.StartDate,
		EndDate:         row.EndDate,
		StartingBalance: row.StartingBalance,
	})
	if runErr != nil {
		msg := runErr.Error()
		if err := p.store.SetBacktestStatus(ctx, backtestID, storage.BacktestFailed, &msg); err != nil {
			p.log.Error().Err(err).Str("backtest_id", backtestID).Msg("backtest worker: record failure")
		}
		return
	}
	if err := p.store.SetBacktestMetrics(ctx, backtestID, storage.BacktestMetrics{
		RealisedPnL:    metricsOut.RealisedPnL,
		UnrealisedPnL:  metricsOut.UnrealisedPnL,
		TotalReturnPct: metricsOut.TotalReturnPct,
		SharpeRatio:    metricsOut.SharpeRatio,
		MaxDrawdown:    metricsOut.MaxDrawdown,
		TotalTrades:    metricsOut.TotalTrades,
		EquityCurve:    metricsOut.EquityCurve,
	}); err != nil {
		p.log.Error().Err(err).Str("backtest_id", backtestID).Msg("backtest worker: persist metrics")
		return
	}
	if err := p.store.SetBacktestStatus(ctx, backtestID, storage.BacktestCompleted, nil); err != nil {
		p.log.Error().Err(err).Str("backtest_id", backtestID).Msg("backtest worker: mark completed")
	}
}

// brokerFactory mirrors cmd/deployment's broker construction: resolve the
// connection id against configured brokers and attach the bus to a live
// adapter's StreamCandles implementation.
func (p *workerPool) brokerFactory() deployment.BrokerFactory {
	return func(ctx context.Context, brokerConnectionID string) (broker.Broker, error) {
		brokerCfg, ok := p.cfg.Brokers[brokerConnectionID]
		if !ok {
			return nil, fmt.Errorf("backend: no broker config for connection id %q", brokerConnectionID)
		}
		configJSON, err := json.Marshal(brokerCfg)
		if err != nil {
			return nil, err
		}
		inner, err := broker.New(brokerCfg.Type, configJSON)
		if err != nil {
			return nil, err
		}
		if live, ok := inner.(*broker.Live); ok {
			return live.WithBus(p.bus), nil
		}
		return inner, nil
	}
}
