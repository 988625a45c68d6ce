// Command deployment implements the "deployment run --deployment-id UUID"
// entry point: run one strategy deployment against a live or paper broker
// until it is stopped or errors out.
//
// Grounded on cmd/engine/main.go's config/logger bootstrap and the
// live-mode double confirmation gate (--confirm-live flag AND
// ALGO_LIVE_CONFIRMED=true), generalized from its single hardcoded Dhan
// adapter to this platform's broker.Registry lookup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/nitinkhare/tradeforge/internal/broker"
	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/config"
	"github.com/nitinkhare/tradeforge/internal/deployment"
	"github.com/nitinkhare/tradeforge/internal/storage"
	"github.com/nitinkhare/tradeforge/internal/strategy"
	"github.com/nitinkhare/tradeforge/internal/telemetry"
)

func main() {
	fs := flag.NewFlagSet("deployment run", flag.ExitOnError)
	configPath := fs.String("config", "config/config.yaml", "path to configuration file")
	deploymentID := fs.String("deployment-id", "", "deployment id to run (required)")
	strategiesDir := fs.String("strategies-dir", "strategies", "directory of compiled strategy program JSON files")
	confirmLive := fs.Bool("confirm-live", false, "required alongside ALGO_LIVE_CONFIRMED=true to run a live deployment")

	if len(os.Args) < 2 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: deployment run --deployment-id UUID")
		os.Exit(1)
	}
	fs.Parse(os.Args[2:])

	if *deploymentID == "" {
		fmt.Fprintln(os.Stderr, "deployment run: --deployment-id is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deployment: load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.RequireLiveConfirmation(cfg.Mode, *confirmLive, os.Getenv("ALGO_LIVE_CONFIRMED")); err != nil {
		fmt.Fprintf(os.Stderr, "deployment: %v\n", err)
		os.Exit(1)
	}

	log, err := telemetry.New(cfg.Logging, "deployment")
	if err != nil {
		fmt.Fprintf(os.Stderr, "deployment: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer redisClient.Close()
	b := bus.NewRedisBus(redisClient, log)

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to relational store")
	}
	defer store.Close()

	programs, err := strategy.LoadDir(*strategiesDir)
	if err != nil {
		log.Fatal().Err(err).Msg("load strategy programs")
	}

	runner := deployment.NewRunner(store, b, programs, brokerFactory(cfg, b), log)
	if err := runner.Run(ctx, *deploymentID); err != nil {
		log.Error().Err(err).Str("deployment_id", *deploymentID).Msg("deployment run failed")
		os.Exit(1)
	}
	log.Info().Str("deployment_id", *deploymentID).Msg("deployment stopped")
}

// brokerFactory resolves a strategy_deployments.broker_connection_id
// against the configured brokers section and constructs the matching
// broker.Broker. The "live" broker variant additionally needs the bus
// (its StreamCandles implementation rides candles.close), attached via
// broker.Live.WithBus after construction since the broker.Registry factory
// signature carries no bus parameter.
func brokerFactory(cfg *config.Config, b bus.Bus) deployment.BrokerFactory {
	return func(ctx context.Context, brokerConnectionID string) (broker.Broker, error) {
		brokerCfg, ok := cfg.Brokers[brokerConnectionID]
		if !ok {
			return nil, fmt.Errorf("deployment: no broker config for connection id %q", brokerConnectionID)
		}
		configJSON, err := json.Marshal(brokerCfg)
		if err != nil {
			return nil, fmt.Errorf("deployment: marshal broker config: %w", err)
		}
		inner, err := broker.New(brokerCfg.Type, configJSON)
		if err != nil {
			return nil, err
		}
		if live, ok := inner.(*broker.Live); ok {
			return live.WithBus(b), nil
		}
		return inner, nil
	}
}
