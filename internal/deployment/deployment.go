// Package deployment implements the live-deployment runtime that races a
// strategy-execution task against a stop-event listener task, cancelling
// whichever is still running the instant the other finishes. Grounded on
// original_source/src/runners/deployment_runner.py's
// asyncio.wait(..., return_when=FIRST_COMPLETED) pattern, ported onto
// Go's context cancellation and golang.org/x/sync/errgroup, and on
// cmd/engine/main.go's "load from storage, build broker, run, then
// persist final status" shape of main().
package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nitinkhare/tradeforge/internal/broker"
	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/storage"
	"github.com/nitinkhare/tradeforge/internal/strategy"
	"github.com/nitinkhare/tradeforge/internal/stratrun"
)

// BrokerFactory resolves a strategy_deployments.broker_connection_id to a
// live Broker. Credential resolution (decryption, OAuth refresh) is an
// external collaborator's job per the cyclic-ownership design note — the
// runtime only consumes the result.
type BrokerFactory func(ctx context.Context, brokerConnectionID string) (broker.Broker, error)

// Runner drives one deployment's lifecycle from "pending" through
// "running" to a terminal "stopped" or "error".
type Runner struct {
	store     storage.Store
	bus       bus.Bus
	programs  *strategy.Registry
	newBroker BrokerFactory
	log       zerolog.Logger
}

func NewRunner(store storage.Store, b bus.Bus, programs *strategy.Registry, newBroker BrokerFactory, log zerolog.Logger) *Runner {
	return &Runner{store: store, bus: b, programs: programs, newBroker: newBroker, log: log.With().Str("component", "deployment_runner").Logger()}
}

// Run executes deploymentID's full lifecycle and blocks until it reaches a
// terminal state. It never returns an error for an ordinary stop; only
// genuine setup failures (unknown deployment, unknown strategy_id, broker
// construction failure) are returned to the caller, everything else is
// recorded on the deployment row itself.
func (r *Runner) Run(ctx context.Context, deploymentID string) error {
	dep, err := r.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if dep.Status == storage.DeploymentStopped || dep.Status == storage.DeploymentRunning {
		return errors.New("deployment: already " + string(dep.Status))
	}

	program, ok := r.programs.Get(dep.StrategyID)
	if !ok {
		msg := "unknown strategy_id " + dep.StrategyID
		_ = r.store.SetDeploymentStatus(ctx, deploymentID, storage.DeploymentError, &msg)
		return errors.New("deployment: " + msg)
	}

	inner, err := r.newBroker(ctx, dep.BrokerConnectionID)
	if err != nil {
		msg := "broker construction failed: " + err.Error()
		_ = r.store.SetDeploymentStatus(ctx, deploymentID, storage.DeploymentError, &msg)
		return err
	}

	proxied := broker.NewProxy(inner, r.bus, deploymentID, r.log)
	if err := r.reconcile(ctx, deploymentID, proxied); err != nil {
		msg := "reconciliation failed: " + err.Error()
		_ = r.store.SetDeploymentStatus(ctx, deploymentID, storage.DeploymentError, &msg)
		return err
	}

	if err := r.store.SetDeploymentStatus(ctx, deploymentID, storage.DeploymentRunning, nil); err != nil {
		return err
	}

	host := stratrun.New(program, proxied, r.log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return r.runStrategy(gctx, host, proxied, dep)
	})
	g.Go(func() error {
		defer cancel()
		return r.listenForStop(gctx, deploymentID)
	})

	runErr := g.Wait()
	r.finalize(ctx, deploymentID, runErr)
	return nil
}

// reconcile refreshes every order the store still considers open for this
// deployment against the broker's authoritative status. broker.Broker has no
// "list open orders" call, only GetOrderStatus for an order already known by
// ID, so this is a one-sided refresh of locally-known rows rather than a full
// two-sided diff: it can correct a row this process crashed before updating
// (a fill or cancel that happened broker-side while nothing was running),
// but it cannot discover an order the broker holds that this deployment never
// recorded. A single order's status lookup failing is logged and skipped
// rather than aborting the whole deployment startup, matching the
// log-and-continue handling the bus/proxy layer already uses for delivery
// failures.
func (r *Runner) reconcile(ctx context.Context, deploymentID string, b broker.Broker) error {
	rows, err := r.store.ListOpenOrdersForDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		status, err := b.GetOrderStatus(ctx, row.BrokerOrderID)
		if err != nil {
			r.log.Warn().Err(err).Str("deployment_id", deploymentID).Str("broker_order_id", row.BrokerOrderID).
				Msg("reconciliation: could not fetch order status, leaving row as-is")
			continue
		}
		if status.Status == row.Status && status.FilledQuantity.Equal(row.FilledQuantity) {
			continue
		}
		r.log.Info().Str("deployment_id", deploymentID).Str("broker_order_id", row.BrokerOrderID).
			Str("stored_status", string(row.Status)).Str("broker_status", string(status.Status)).
			Msg("reconciliation: updating order row from broker status")
		err = r.store.UpdateOrderByBrokerID(ctx, row.BrokerOrderID, func(r *storage.OrderRow) {
			r.Status = status.Status
			r.FilledQuantity = status.FilledQuantity
			r.AvgFillPrice = status.AvgFillPrice
			r.FilledAt = status.FilledAt
		})
		if err != nil {
			return fmt.Errorf("reconcile order %s: %w", row.BrokerOrderID, err)
		}
	}
	return nil
}

func (r *Runner) runStrategy(ctx context.Context, host *stratrun.Host, b broker.Broker, dep storage.DeploymentRow) error {
	candles, err := b.StreamCandles(ctx, dep.Symbol, dep.Timeframe)
	if err != nil {
		return err
	}
	return host.Run(ctx, candles)
}

// listenForStop subscribes to deployments.events and returns nil the moment
// a stop event for this deployment arrives, or when ctx is cancelled by the
// strategy task finishing first. A lost subscription is a framework error.
func (r *Runner) listenForStop(ctx context.Context, deploymentID string) error {
	msgs, teardown, err := r.bus.Subscribe(ctx, events.ChannelDeploymentEvents)
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
			var evt events.DeploymentEvent
			if parseErr := json.Unmarshal(msg.Payload, &evt); parseErr != nil {
				r.log.Error().Err(parseErr).Msg("failed to parse deployment event")
				continue
			}
			if evt.DeploymentID != deploymentID {
				continue
			}
			if evt.Type == events.DeploymentEventStop {
				r.log.Info().Str("deployment_id", deploymentID).Msg("stop event received")
				return nil
			}
		}
	}
}

// finalize records the deployment's terminal state. A nil or
// context-cancellation error means a clean stop; anything else is a
// framework error.
func (r *Runner) finalize(ctx context.Context, deploymentID string, runErr error) {
	if runErr == nil || errors.Is(runErr, context.Canceled) {
		if err := r.store.SetDeploymentStatus(ctx, deploymentID, storage.DeploymentStopped, nil); err != nil {
			r.log.Error().Err(err).Str("deployment_id", deploymentID).Msg("failed to record stopped status")
		}
		return
	}
	msg := runErr.Error()
	if err := r.store.SetDeploymentStatus(ctx, deploymentID, storage.DeploymentError, &msg); err != nil {
		r.log.Error().Err(err).Str("deployment_id", deploymentID).Msg("failed to record error status")
	}
}
