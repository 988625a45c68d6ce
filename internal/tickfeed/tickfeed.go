// Package tickfeed implements venue tick source adapters. A LiveFeed
// dials a venue's WebSocket endpoint and republishes decoded
// trades onto ticks.raw, auto-reconnecting with exponential backoff; a
// Backfiller pages through a venue's REST trade history and writes
// directly into the historical store.
//
// The reconnect-with-backoff shape (1s up to 30s, read deadline forcing
// reconnect on a silent server) is ported from
// 0xtitan6-polymarket-mm/internal/exchange/ws.go's WSFeed. The historical
// paginated-fetch-and-ingest shape is ported from
// original_source/src/pipelines/alpaca.py's _fetch_historical loop.
package tickfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/ratelimit"
)

const (
	readTimeout      = 90 * time.Second
	pingInterval     = 50 * time.Second
	writeTimeout     = 10 * time.Second
	initialBackoff   = time.Second
	maxReconnectWait = 30 * time.Second
)

// Decoder turns one raw WebSocket frame into a tick. ok is false for
// frames that aren't trades (heartbeats, book snapshots, acks) and should
// be silently skipped.
type Decoder func(raw []byte) (t market.Tick, ok bool, err error)

// LiveFeed maintains one WebSocket connection to a venue and republishes
// every decoded trade onto ticks.raw.
type LiveFeed struct {
	Broker string
	URL    string
	Decode Decoder
	bus    bus.Bus
	log    zerolog.Logger
}

func NewLiveFeed(broker, url string, decode Decoder, b bus.Bus, log zerolog.Logger) *LiveFeed {
	return &LiveFeed{
		Broker: broker,
		URL:    url,
		Decode: decode,
		bus:    b,
		log:    log.With().Str("component", "tickfeed").Str("broker", broker).Logger(),
	}
}

// Run connects and republishes ticks until ctx is cancelled, reconnecting
// with exponential backoff on any read or dial failure.
func (f *LiveFeed) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.log.Warn().Err(err).Dur("backoff", backoff).Msg("tick feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *LiveFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.log.Info().Msg("tick feed connected")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		t, ok, err := f.Decode(raw)
		if err != nil {
			f.log.Warn().Err(err).Msg("dropping unparsable tick frame")
			continue
		}
		if !ok {
			continue
		}
		t.Source = f.Broker

		if err := bus.PublishJSON(ctx, f.bus, events.ChannelTicksRaw, events.Tick{
			Broker:    f.Broker,
			MarketType: string(t.MarketType),
			Symbol:    t.Symbol,
			Price:     t.Price,
			Size:      t.Size,
			Timestamp: t.Timestamp,
		}); err != nil {
			f.log.Warn().Err(err).Msg("tick publish failed")
		}
	}
}

func (f *LiveFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.log.Warn().Err(err).Msg("tick feed ping failed")
				return
			}
		}
	}
}

// Store is the subset of the historical store a backfill writes into.
type Store interface {
	InsertTick(ctx context.Context, t market.Tick) error
}

// PageFetcher fetches one page of historical trades for symbol between
// [from, to]. pageToken is empty on the first call; a non-empty returned
// token means more pages remain. Implementations are venue-specific (REST
// endpoint shape, pagination scheme) and live alongside whichever broker
// adapter constructs a Backfiller.
type PageFetcher func(ctx context.Context, symbol string, from, to time.Time, pageToken string) (ticks []market.Tick, nextPageToken string, err error)

// Backfiller pages through a venue's REST trade history and writes every
// tick into the historical store, rate-limited per the venue's published
// request budget.
type Backfiller struct {
	Broker  string
	Fetch   PageFetcher
	store   Store
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

func NewBackfiller(broker string, fetch PageFetcher, store Store, limiter *ratelimit.Limiter, log zerolog.Logger) *Backfiller {
	return &Backfiller{
		Broker:  broker,
		Fetch:   fetch,
		store:   store,
		limiter: limiter,
		log:     log.With().Str("component", "tickfeed_backfill").Str("broker", broker).Logger(),
	}
}

// Run fetches and ingests every page of symbol's trade history in
// [from, to], oldest first. A failed write for one tick is logged and
// skipped rather than aborting the whole backfill, matching the
// at-least-once, continue-on-error shape of the aggregator's emit path.
func (b *Backfiller) Run(ctx context.Context, symbol string, from, to time.Time) error {
	pageToken := ""
	pages := 0
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("tickfeed: rate limit wait: %w", err)
		}

		ticks, next, err := b.Fetch(ctx, symbol, from, to, pageToken)
		if err != nil {
			return fmt.Errorf("tickfeed: fetch page %d for %s: %w", pages+1, symbol, err)
		}
		pages++

		for _, t := range ticks {
			t.Source = b.Broker
			if err := b.store.InsertTick(ctx, t); err != nil {
				b.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to insert backfilled tick, continuing")
			}
		}

		b.log.Info().Int("page", pages).Int("ticks", len(ticks)).Str("symbol", symbol).Msg("backfill page ingested")

		if next == "" {
			return nil
		}
		pageToken = next
	}
}
