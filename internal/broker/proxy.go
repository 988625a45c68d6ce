// proxy.go implements a thin wrapper that delegates every call to an inner
// broker and publishes a lifecycle event onto the bus per mutating call.
// Direct structural port of
// original_source/src/lib/brokers/proxy.py, with the transport swapped from
// Kafka to the platform's Redis-backed bus.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
)

// Proxy wraps any Broker and emits order/snapshot lifecycle events. It
// never blocks the underlying call's result on the publish succeeding: the
// event handler repopulates from the source of truth via reconciliation,
// but this is best effort per the component's own bounded-timeout contract.
type Proxy struct {
	inner        Broker
	bus          bus.Bus
	deploymentID string
	log          zerolog.Logger
}

func NewProxy(inner Broker, b bus.Bus, deploymentID string, log zerolog.Logger) *Proxy {
	return &Proxy{inner: inner, bus: b, deploymentID: deploymentID, log: log.With().Str("component", "proxy_broker").Logger()}
}

func (p *Proxy) GetAccount(ctx context.Context) (market.Account, error) {
	return p.inner.GetAccount(ctx)
}

func (p *Proxy) SubmitOrder(ctx context.Context, req market.OrderRequest) (market.OrderResponse, error) {
	resp, err := p.inner.SubmitOrder(ctx, req)
	if err != nil {
		return resp, err
	}
	p.publishOrderEvent(ctx, events.OrderEventPlaced, resp, true)
	return resp, nil
}

func (p *Proxy) ModifyOrder(ctx context.Context, orderID string, newLimitPrice, newStopPrice *string) (market.OrderResponse, error) {
	resp, err := p.inner.ModifyOrder(ctx, orderID, newLimitPrice, newStopPrice)
	p.publishOrderEvent(ctx, events.OrderEventModified, resp, err == nil)
	return resp, err
}

func (p *Proxy) CancelOrder(ctx context.Context, orderID string) error {
	err := p.inner.CancelOrder(ctx, orderID)
	evt := events.OrderEvent{
		ID:           uuid.NewString(),
		Type:         events.OrderEventCancelled,
		DeploymentID: p.deploymentID,
		Timestamp:    time.Now().Unix(),
		OrderID:      orderID,
		Success:      err == nil,
	}
	p.publish(ctx, events.ChannelOrdersEvents, evt)
	return err
}

func (p *Proxy) GetOrderStatus(ctx context.Context, orderID string) (market.OrderResponse, error) {
	return p.inner.GetOrderStatus(ctx, orderID)
}

func (p *Proxy) StreamCandles(ctx context.Context, symbol string, tf market.Timeframe) (<-chan market.OHLCV, error) {
	inner, err := p.inner.StreamCandles(ctx, symbol, tf)
	if err != nil {
		return nil, err
	}
	out := make(chan market.OHLCV)
	go func() {
		defer close(out)
		for c := range inner {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
			p.emitSnapshots(ctx, c.Close)
		}
	}()
	return out, nil
}

// emitSnapshots publishes the two SnapshotCreated events (equity first,
// then balance) the component design requires after every candle processed
// during streaming.
func (p *Proxy) emitSnapshots(ctx context.Context, lastClose decimal.Decimal) {
	acct, err := p.inner.GetAccount(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("could not read account for snapshot emission")
		return
	}
	now := time.Now().Unix()
	equity := events.SnapshotEvent{
		ID: uuid.NewString(), Type: "snapshot_created", DeploymentID: p.deploymentID,
		SnapshotType: events.SnapshotTypeEquity, Value: acct.Equity, Timestamp: now,
	}
	p.publish(ctx, events.ChannelSnapshotsEvents, equity)

	balance := events.SnapshotEvent{
		ID: uuid.NewString(), Type: "snapshot_created", DeploymentID: p.deploymentID,
		SnapshotType: events.SnapshotTypeBalance, Value: acct.Cash, Timestamp: now,
	}
	p.publish(ctx, events.ChannelSnapshotsEvents, balance)
}

func (p *Proxy) publishOrderEvent(ctx context.Context, typ events.OrderEventType, resp market.OrderResponse, success bool) {
	evt := events.OrderEvent{
		ID: uuid.NewString(), Type: typ, DeploymentID: p.deploymentID, Timestamp: time.Now().Unix(),
		OrderID: resp.OrderID, ClientOrderID: resp.ClientOrderID, Symbol: resp.Symbol,
		Side: string(resp.Side), OrderType: string(resp.Type), Quantity: resp.Quantity,
		FilledQuantity: resp.FilledQuantity, LimitPrice: resp.LimitPrice, StopPrice: resp.StopPrice,
		AvgFillPrice: resp.AvgFillPrice, Status: string(resp.Status), TimeInForce: string(resp.TimeInForce),
		Success: success,
	}
	p.publish(ctx, events.ChannelOrdersEvents, evt)
}

func (p *Proxy) publish(ctx context.Context, channel string, v any) {
	if err := bus.PublishJSON(ctx, p.bus, channel, v); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("proxy broker: event publish failed, underlying call result still returned")
	}
}
