package wsfan

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/bus"
)

// fakeBus delivers a fixed set of messages to every Subscribe call, then
// blocks until the context is cancelled.
type fakeBus struct {
	bus.Bus
	msgs []bus.Message
}

func (f *fakeBus) Subscribe(ctx context.Context, channels ...string) (<-chan bus.Message, func() error, error) {
	ch := make(chan bus.Message, len(f.msgs))
	for _, m := range f.msgs {
		ch <- m
	}
	go func() {
		<-ctx.Done()
	}()
	return ch, func() error { return nil }, nil
}

func TestHub_RelaysMessagesToRegisteredClient(t *testing.T) {
	fb := &fakeBus{msgs: []bus.Message{
		{Channel: "candles.close", Payload: []byte(`{"symbol":"AAPL"}`)},
	}}
	h := NewHub(fb, []string{"candles.close"}, zerolog.Nop())

	// Register the client before Run starts: fakeBus hands its message over
	// at Subscribe time, and Run relays only to clients already registered.
	client := &Client{ID: "test", Send: make(chan Frame, 4)}
	h.clients[client] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	select {
	case frame := <-client.Send:
		require.Equal(t, "candles.close", frame.Channel)
		require.JSONEq(t, `{"symbol":"AAPL"}`, string(frame.Payload))
	case <-time.After(time.Second):
		t.Fatal("expected a frame to be relayed")
	}

	h.Unregister(client)
}

func TestHub_DropsClientWithFullSendBuffer(t *testing.T) {
	msgs := make(chan bus.Message)
	h := NewHub(&chanBus{ch: msgs}, []string{"candles.close"}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{ID: "slow", Send: make(chan Frame)} // unbuffered, never drained
	h.Register(client)
	time.Sleep(20 * time.Millisecond)

	msgs <- bus.Message{Channel: "candles.close", Payload: []byte(`{}`)}

	// The hub must not block; give it a moment to process and drop the client.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, h.ClientCount())
}

// chanBus is a minimal bus.Bus whose Subscribe returns a caller-controlled
// channel, used to simulate backpressure against a slow client.
type chanBus struct {
	bus.Bus
	ch chan bus.Message
}

func (c *chanBus) Subscribe(ctx context.Context, channels ...string) (<-chan bus.Message, func() error, error) {
	return c.ch, func() error { return nil }, nil
}
