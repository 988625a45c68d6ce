package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/broker"
	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/config"
)

type fakeBus struct{}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (b *fakeBus) Subscribe(ctx context.Context, channels ...string) (<-chan bus.Message, func() error, error) {
	ch := make(chan bus.Message)
	close(ch)
	return ch, func() error { return nil }, nil
}
func (b *fakeBus) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (b *fakeBus) Get(ctx context.Context, key string) (string, bool, error)           { return "", false, nil }
func (b *fakeBus) ScanKeys(ctx context.Context, pattern string) ([]string, error)      { return nil, nil }

func TestBrokerFactory_UnknownConnectionIDErrors(t *testing.T) {
	cfg := &config.Config{Brokers: map[string]config.BrokerConfig{}}
	factory := brokerFactory(cfg, &fakeBus{})

	_, err := factory(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestBrokerFactory_AttachesBusToLiveBroker(t *testing.T) {
	cfg := &config.Config{Brokers: map[string]config.BrokerConfig{
		"acme": {Type: "live", BaseURL: "https://example.test", AccessToken: "token"},
	}}
	factory := brokerFactory(cfg, &fakeBus{})

	b, err := factory(context.Background(), "acme")
	require.NoError(t, err)
	_, ok := b.(*broker.Live)
	require.True(t, ok)
}
