// Package bus is the pub/sub transport over which candles, order events,
// snapshot events and deployment-control events travel between workers.
// Grounded on the Redis client the platform's pre-rewrite Python services
// use for the same job; github.com/redis/go-redis/v9 is its Go-ecosystem
// equivalent.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Publish timeout per the concurrency model: bus publish is bounded to
// roughly one second; on timeout callers log and proceed rather than block
// a candle/order path indefinitely.
const PublishTimeout = time.Second

var (
	ErrPublishTimeout = errors.New("bus: publish timeout")
	ErrSubscribeLost  = errors.New("bus: subscription lost")
)

// Message is one received pub/sub message, already matched to the channel
// it was delivered on.
type Message struct {
	Channel string
	Payload []byte
}

// Bus is the transport contract every component depends on. Implementations
// must make Publish safe to call from arbitrary goroutines concurrently.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of messages for the given channels and a
	// function that tears the subscription down. The returned channel is
	// closed when the subscription ends (context cancelled, or after the
	// circuit breaker gives up reconnecting).
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error)

	// Cache operations back the aggregator's recovery keys and the
	// latest-price keys named in the external interface.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// PublishJSON marshals v and publishes it, honoring PublishTimeout.
func PublishJSON(ctx context.Context, b Bus, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	return b.Publish(ctx, channel, payload)
}

// Cache key helpers, matching the external interface's naming exactly.
func RecoveryKey(source, symbol, timeframe string) string {
	return "ohlc:" + source + ":" + symbol + ":" + timeframe
}

func PriceKey(broker, symbol string) string {
	return "price:" + broker + ":" + symbol
}
