// Package aggregator folds a tick stream into OHLCV candles for every
// timeframe, emits CandleClose events, persists closed candles, and
// recovers in-progress state after a restart.
//
// Grounded directly on original_source/src/pipelines/ohlc_builder.py's
// three-level state map and per-tick update rule.
package aggregator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
)

// Store is the subset of the historical store the aggregator needs: an
// idempotent insert keyed on (source, symbol, timeframe, timestamp).
type Store interface {
	InsertCandle(ctx context.Context, c market.OHLCV) error
}

// tripleKey identifies one (source, symbol, timeframe) aggregation unit.
type tripleKey struct {
	source    string
	symbol    string
	timeframe market.Timeframe
}

// keyLock guards one triple's in-progress candle against concurrent ticks
// for that same triple, matching the "per-key lock or actor" requirement.
type keyLock struct {
	mu     sync.Mutex
	candle *market.OHLCV
}

// Aggregator owns the three-level state map (realised here as a
// mutex-guarded map of per-triple locks, since Go has no free-standing
// nested-map-of-mutexes primitive) plus the retry policy for persisting
// emitted candles.
type Aggregator struct {
	store Store
	bus   bus.Bus
	log   zerolog.Logger

	mu    sync.RWMutex
	state map[tripleKey]*keyLock

	maxPersistAttempts int
}

func New(store Store, b bus.Bus, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:              store,
		bus:                b,
		log:                log.With().Str("component", "aggregator").Logger(),
		state:              make(map[tripleKey]*keyLock),
		maxPersistAttempts: 5,
	}
}

func (a *Aggregator) lockFor(k tripleKey) *keyLock {
	a.mu.RLock()
	kl, ok := a.state[k]
	a.mu.RUnlock()
	if ok {
		return kl
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if kl, ok = a.state[k]; ok {
		return kl
	}
	kl = &keyLock{}
	a.state[k] = kl
	return kl
}

// Recover scans the recovery cache and rehydrates in-progress candles
// before new ticks are consumed. Closed candles are never restored; the
// historical store is authoritative for those.
func (a *Aggregator) Recover(ctx context.Context) error {
	pattern := "ohlc:*"
	keys, err := a.bus.ScanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	for _, key := range keys {
		raw, ok, err := a.bus.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var c market.OHLCV
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			a.log.Warn().Str("key", key).Err(err).Msg("recovery: dropping unparsable cache entry")
			continue
		}
		k := tripleKey{source: c.Source, symbol: c.Symbol, timeframe: c.Timeframe}
		kl := a.lockFor(k)
		kl.mu.Lock()
		cc := c
		kl.candle = &cc
		kl.mu.Unlock()
	}
	a.log.Info().Int("keys", len(keys)).Msg("recovered in-progress candle state")
	return nil
}

// Process applies the per-timeframe update rule to one tick, for every
// timeframe in the closed set. Errors from persisting an emitted candle
// are retried internally; a caller never sees them (they are non-fatal per
// the failure-semantics contract).
func (a *Aggregator) Process(ctx context.Context, t market.Tick) {
	for _, tf := range market.AllTimeframes {
		a.processOne(ctx, t, tf)
	}
}

func (a *Aggregator) processOne(ctx context.Context, t market.Tick, tf market.Timeframe) {
	k := tripleKey{source: t.Source, symbol: t.Symbol, timeframe: tf}
	kl := a.lockFor(k)

	bucketStart := tf.BucketStart(t.Timestamp)

	kl.mu.Lock()
	var toEmit *market.OHLCV
	switch {
	case kl.candle == nil:
		kl.candle = &market.OHLCV{
			Source: t.Source, Symbol: t.Symbol, Timeframe: tf,
			Timestamp: bucketStart,
			Open:      t.Price, High: t.Price, Low: t.Price, Close: t.Price,
			Volume: t.Size,
		}
	case bucketStart == kl.candle.Timestamp:
		kl.candle.Close = t.Price
		if t.Price.GreaterThan(kl.candle.High) {
			kl.candle.High = t.Price
		}
		if t.Price.LessThan(kl.candle.Low) {
			kl.candle.Low = t.Price
		}
		kl.candle.Volume = kl.candle.Volume.Add(t.Size)
	case bucketStart > kl.candle.Timestamp:
		frozen := *kl.candle
		toEmit = &frozen
		kl.candle = &market.OHLCV{
			Source: t.Source, Symbol: t.Symbol, Timeframe: tf,
			Timestamp: bucketStart,
			Open:      t.Price, High: t.Price, Low: t.Price, Close: t.Price,
			Volume: t.Size,
		}
	default:
		// Late tick for an already-closed bucket: log and drop, never
		// retroactively mutate a closed candle.
		kl.mu.Unlock()
		a.log.Debug().Str("symbol", t.Symbol).Str("tf", string(tf)).
			Int64("tick_ts", t.Timestamp).Int64("current_ts", kl.candle.Timestamp).
			Msg("dropping out-of-order tick")
		return
	}
	current := *kl.candle
	kl.mu.Unlock()

	a.persistForRecovery(ctx, current)

	if toEmit != nil {
		a.emit(ctx, *toEmit)
	}
}

func (a *Aggregator) persistForRecovery(ctx context.Context, c market.OHLCV) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	key := bus.RecoveryKey(c.Source, c.Symbol, string(c.Timeframe))
	if err := a.bus.Set(ctx, key, string(raw), 0); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("recovery cache write failed (non-fatal)")
	}
}

// emit performs the two actions the emit contract requires in order:
// insert into the historical store (idempotent, retried with backoff), then
// publish CandleClose. Duplicate publishes after a retried insert are
// acceptable because subscribers dedupe on candle key.
func (a *Aggregator) emit(ctx context.Context, c market.OHLCV) {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < a.maxPersistAttempts; attempt++ {
		if err := a.store.InsertCandle(ctx, c); err != nil {
			lastErr = err
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		a.log.Error().Err(lastErr).Str("symbol", c.Symbol).Msg("failed to persist closed candle after retries, continuing")
	}

	payload := events.CandleClose{
		Broker:    c.Source,
		Symbol:    c.Symbol,
		Timeframe: string(c.Timeframe),
		Timestamp: time.Unix(c.Timestamp, 0).UTC().Format(time.RFC3339),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
	if err := bus.PublishJSON(ctx, a.bus, events.ChannelCandlesClose, payload); err != nil {
		a.log.Warn().Err(err).Msg("candle close publish failed")
	}
}

// LatestCandle returns the in-progress (possibly nil) candle for a triple;
// only tests call it.
func (a *Aggregator) LatestCandle(source, symbol string, tf market.Timeframe) *market.OHLCV {
	k := tripleKey{source: source, symbol: symbol, timeframe: tf}
	kl := a.lockFor(k)
	kl.mu.Lock()
	defer kl.mu.Unlock()
	if kl.candle == nil {
		return nil
	}
	cc := *kl.candle
	return &cc
}
