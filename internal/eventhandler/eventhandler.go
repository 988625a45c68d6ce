// Package eventhandler implements the sink subscriber that consumes
// orders.events and snapshots.events and applies them to the relational
// store. Direct structural port of the original
// event_handler.py's dispatch-by-type loop, generalized from synchronous
// SQLAlchemy sessions to the injected storage.Store contract and from
// exception-per-message to log-and-continue per message.
package eventhandler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/storage"
)

// Handler subscribes to the order/snapshot event channels and applies each
// message to store.
type Handler struct {
	bus   bus.Bus
	store storage.Store
	log   zerolog.Logger
}

func New(b bus.Bus, store storage.Store, log zerolog.Logger) *Handler {
	return &Handler{bus: b, store: store, log: log.With().Str("component", "event_handler").Logger()}
}

// Listen subscribes to orders.events and snapshots.events and processes
// messages until ctx is cancelled or the subscription is lost (the bus
// gives up reconnecting after its circuit breaker trips — a subscription
// loss here is fatal and propagates for supervisor restart).
func (h *Handler) Listen(ctx context.Context) error {
	msgs, teardown, err := h.bus.Subscribe(ctx, events.ChannelOrdersEvents, events.ChannelSnapshotsEvents)
	if err != nil {
		return err
	}
	defer teardown()

	h.log.Info().Str("channels", events.ChannelOrdersEvents+","+events.ChannelSnapshotsEvents).Msg("event handler subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return bus.ErrSubscribeLost
			}
			h.handle(ctx, msg)
		}
	}
}

func (h *Handler) handle(ctx context.Context, msg bus.Message) {
	switch msg.Channel {
	case events.ChannelOrdersEvents:
		h.handleOrderEvent(ctx, msg.Payload)
	case events.ChannelSnapshotsEvents:
		h.handleSnapshotEvent(ctx, msg.Payload)
	default:
		h.log.Warn().Str("channel", msg.Channel).Msg("event handler: message on unexpected channel")
	}
}

func (h *Handler) handleOrderEvent(ctx context.Context, payload []byte) {
	var evt events.OrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.log.Error().Err(err).Msg("failed to parse order event")
		return
	}

	switch evt.Type {
	case events.OrderEventPlaced:
		h.handleOrderPlaced(ctx, evt)
	case events.OrderEventCancelled:
		h.handleOrderCancelled(ctx, evt)
	case events.OrderEventModified:
		h.handleOrderModified(ctx, evt)
	default:
		h.log.Warn().Str("type", string(evt.Type)).Msg("unknown order event type")
	}
}

// handleOrderPlaced implements the idempotent upsert: publishing the same
// OrderPlaced event twice must yield one row (scenario 5), so this always
// upserts on broker_order_id rather than blind-inserting.
func (h *Handler) handleOrderPlaced(ctx context.Context, evt events.OrderEvent) {
	row := storage.OrderRow{
		Symbol:         evt.Symbol,
		Side:           market.OrderSide(evt.Side),
		OrderType:      market.OrderType(evt.OrderType),
		Quantity:       evt.Quantity,
		FilledQuantity: evt.FilledQuantity,
		LimitPrice:     evt.LimitPrice,
		StopPrice:      evt.StopPrice,
		AvgFillPrice:   evt.AvgFillPrice,
		Status:         market.OrderStatus(evt.Status),
		TimeInForce:    market.TimeInForce(evt.TimeInForce),
		BrokerOrderID:  evt.OrderID,
		ClientOrderID:  evt.ClientOrderID,
		DeploymentID:   &evt.DeploymentID,
	}
	if err := h.store.UpsertOrderByBrokerID(ctx, row); err != nil {
		h.log.Error().Err(err).Str("order_id", evt.OrderID).Msg("failed to upsert placed order")
		return
	}
	h.log.Info().Str("order_id", evt.OrderID).Str("deployment_id", evt.DeploymentID).Msg("order placed")
}

func (h *Handler) handleOrderCancelled(ctx context.Context, evt events.OrderEvent) {
	if !evt.Success {
		h.log.Warn().Str("order_id", evt.OrderID).Str("deployment_id", evt.DeploymentID).Msg("order cancellation failed upstream, not applying")
		return
	}
	err := h.store.UpdateOrderByBrokerID(ctx, evt.OrderID, func(r *storage.OrderRow) {
		r.Status = market.StatusCancelled
	})
	if err != nil {
		h.log.Warn().Err(err).Str("order_id", evt.OrderID).Msg("order not found for cancellation")
		return
	}
	h.log.Info().Str("order_id", evt.OrderID).Msg("order cancelled")
}

func (h *Handler) handleOrderModified(ctx context.Context, evt events.OrderEvent) {
	if !evt.Success {
		h.log.Warn().Str("order_id", evt.OrderID).Str("deployment_id", evt.DeploymentID).Msg("order modification failed upstream, not applying")
		return
	}
	err := h.store.UpdateOrderByBrokerID(ctx, evt.OrderID, func(r *storage.OrderRow) {
		r.Quantity = evt.Quantity
		r.LimitPrice = evt.LimitPrice
		r.StopPrice = evt.StopPrice
		r.Status = market.OrderStatus(evt.Status)
	})
	if err != nil {
		h.log.Warn().Err(err).Str("order_id", evt.OrderID).Msg("order not found for modification")
		return
	}
	h.log.Info().Str("order_id", evt.OrderID).Msg("order modified")
}

func (h *Handler) handleSnapshotEvent(ctx context.Context, payload []byte) {
	var evt events.SnapshotEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.log.Error().Err(err).Msg("failed to parse snapshot event")
		return
	}

	row := storage.SnapshotRow{
		DeploymentID: evt.DeploymentID,
		Timestamp:    time.Unix(evt.Timestamp, 0).UTC(),
		SnapshotType: market.SnapshotType(evt.SnapshotType),
		Value:        evt.Value,
	}
	if err := h.store.InsertSnapshot(ctx, row); err != nil {
		h.log.Error().Err(err).Str("deployment_id", evt.DeploymentID).Msg("failed to insert snapshot")
		return
	}

	if evt.SnapshotType == events.SnapshotTypeBalance {
		if err := h.store.SetDeploymentStartingBalanceIfNull(ctx, evt.DeploymentID, evt.Value); err != nil {
			h.log.Warn().Err(err).Str("deployment_id", evt.DeploymentID).Msg("failed to set starting balance")
		}
	}

	h.log.Info().Str("deployment_id", evt.DeploymentID).Str("type", string(evt.SnapshotType)).Msg("snapshot created")
}
