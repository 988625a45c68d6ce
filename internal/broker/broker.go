// Package broker defines the common broker contract used by the live
// adapter, the simulated broker, and the proxy wrapper: order submission,
// account state, and historical/streaming candles. Structural model keeps
// the original Broker interface + Registry factory pattern; the value
// types are replaced with the market-data types from internal/market so
// every broker variant speaks the same canonical shapes.
package broker

import (
	"context"
	"fmt"

	"github.com/nitinkhare/tradeforge/internal/market"
)

// Broker is the contract every variant (live, simulated, proxy) satisfies.
// Streaming operations always return a channel, per the design note
// replacing the source's async/sync broker split with one uniform
// interface; synchronous adapters run their blocking work on a dedicated
// goroutine and forward through the channel.
type Broker interface {
	GetAccount(ctx context.Context) (market.Account, error)
	SubmitOrder(ctx context.Context, req market.OrderRequest) (market.OrderResponse, error)
	ModifyOrder(ctx context.Context, orderID string, newLimitPrice, newStopPrice *string) (market.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (market.OrderResponse, error)

	// StreamCandles returns a channel of closed candles for (symbol, tf).
	// The channel is closed when ctx is cancelled or the underlying source
	// is exhausted (backtest feed) / disconnects (live feed, after the
	// circuit breaker gives up).
	StreamCandles(ctx context.Context, symbol string, tf market.Timeframe) (<-chan market.OHLCV, error)
}

// Registry maps broker connection kinds to their factory functions, the
// same broker.Registry/broker.New pattern this package has always used.
var Registry = map[string]func(configJSON []byte) (Broker, error){}

// New creates a broker instance by name using the registry.
func New(name string, configJSON []byte) (Broker, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown broker %q, registered: %v", name, registeredNames())
	}
	return factory(configJSON)
}

func registeredNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	return names
}
