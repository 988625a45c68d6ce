// Command pipeline implements the "pipeline run --broker B --market M
// --symbol S" entry point: one ingestion pipeline dialing a venue's live
// tick feed, folding ticks into OHLCV candles, and persisting/publishing
// the result.
//
// Grounded on cmd/engine/main.go's overall shape (flag parsing, config
// load, signal-based graceful shutdown) generalized from one fixed mode
// switch to this platform's four-binary split.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nitinkhare/tradeforge/internal/aggregator"
	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/config"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/ohlcstore"
	"github.com/nitinkhare/tradeforge/internal/telemetry"
	"github.com/nitinkhare/tradeforge/internal/tickfeed"
)

func main() {
	fs := flag.NewFlagSet("pipeline run", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to configuration file")
	brokerID := fs.String("broker", "", "broker connection id from config.brokers (required)")
	marketType := fs.String("market", string(market.MarketTypeEquity), "market type: equity|future|option|crypto")
	symbol := fs.String("symbol", "", "symbol to ingest (required)")

	if len(os.Args) < 2 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: pipeline run --broker B --market M --symbol S")
		os.Exit(1)
	}
	fs.Parse(os.Args[2:])

	if *brokerID == "" || *symbol == "" {
		fmt.Fprintln(os.Stderr, "pipeline run: --broker and --symbol are required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := telemetry.New(cfg.Logging, "pipeline")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: %v\n", err)
		os.Exit(1)
	}

	brokerCfg, ok := cfg.Brokers[*brokerID]
	if !ok {
		log.Fatal().Str("broker", *brokerID).Msg("no broker config found")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer redisClient.Close()
	b := bus.NewRedisBus(redisClient, log)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer pool.Close()
	candles := ohlcstore.NewPostgresStore(pool)

	agg := aggregator.New(candles, b, log)
	if err := agg.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("recovery scan failed, starting from empty in-progress state")
	}

	decode, feedURL, err := decoderFor(brokerCfg.Type, market.MarketType(*marketType), brokerCfg.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("unsupported broker type for live feed")
	}
	feed := tickfeed.NewLiveFeed(*brokerID, feedURL, decode, b, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return relayTicksToAggregator(gctx, b, agg, *brokerID, *symbol) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Error().Err(err).Msg("pipeline stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("pipeline stopped cleanly")
}

// decoderFor resolves a broker type to its tick Decoder and live feed URL.
// Only "alpaca" is wired to a concrete decoder; other broker types would
// add their own case here.
func decoderFor(brokerType string, mt market.MarketType, url string) (tickfeed.Decoder, string, error) {
	switch brokerType {
	case "alpaca":
		return tickfeed.AlpacaTradeDecoder(mt), url, nil
	default:
		return nil, "", fmt.Errorf("no tick decoder registered for broker type %q", brokerType)
	}
}

// relayTicksToAggregator subscribes to ticks.raw and feeds matching ticks
// into the aggregator. The aggregator itself never subscribes to the bus
// directly (see internal/aggregator), so every pipeline process owns this
// bridge for its own (broker, symbol) pair.
func relayTicksToAggregator(ctx context.Context, b bus.Bus, agg *aggregator.Aggregator, brokerID, symbol string) error {
	msgs, teardown, err := b.Subscribe(ctx, events.ChannelTicksRaw)
	if err != nil {
		return err
	}
	defer teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return bus.ErrSubscribeLost
			}
			var evt events.Tick
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				continue
			}
			if evt.Broker != brokerID || evt.Symbol != symbol {
				continue
			}
			agg.Process(ctx, market.Tick{
				Source:     evt.Broker,
				Symbol:     evt.Symbol,
				MarketType: market.MarketType(evt.MarketType),
				Price:      evt.Price,
				Size:       evt.Size,
				Timestamp:  evt.Timestamp,
			})
		}
	}
}
