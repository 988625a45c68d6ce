package bus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/tradeforge/internal/circuitbreaker"
)

// RedisBus implements Bus over a single go-redis client, shared process-wide
// per the concurrency model ("the pub/sub client is shared; producer publish
// is independent from consumer subscribe").
type RedisBus struct {
	client *redis.Client
	log    zerolog.Logger
	cb     *circuitbreaker.Breaker
}

func NewRedisBus(client *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		log:    log.With().Str("component", "bus").Logger(),
		cb:     circuitbreaker.New(circuitbreaker.DefaultConfig(), log),
	}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("bus publish failed")
		return ErrPublishTimeout
	}
	return nil
}

// Subscribe reconnects with backoff on subscription failure, tripping the
// shared circuit breaker after repeated attempts and surfacing
// ErrSubscribeLost to the caller rather than looping forever.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error) {
	sub := b.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		b.cb.RecordFailure(err.Error())
		return nil, nil, err
	}
	b.cb.RecordSuccess()

	out := make(chan Message, 256)
	go func() {
		defer close(out)
		backoff := time.Second
		redisCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					b.cb.RecordFailure("subscription channel closed")
					if b.cb.Tripped() {
						b.log.Error().Msg("bus subscription circuit breaker tripped, giving up")
						return
					}
					time.Sleep(backoff)
					if backoff < 30*time.Second {
						backoff *= 2
					}
					newSub := b.client.Subscribe(ctx, channels...)
					if _, err := newSub.Receive(ctx); err != nil {
						b.cb.RecordFailure(err.Error())
						continue
					}
					sub = newSub
					redisCh = sub.Channel()
					backoff = time.Second
					continue
				}
				backoff = time.Second
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, sub.Close, nil
}

func (b *RedisBus) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBus) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b *RedisBus) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
