package tickfeed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/ratelimit"
)

func TestAlpacaTradeDecoder_SkipsNonTradeFrames(t *testing.T) {
	decode := AlpacaTradeDecoder(market.MarketTypeCrypto)

	_, ok, err := decode([]byte(`[{"T":"success","msg":"authenticated"}]`))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAlpacaTradeDecoder_ParsesTrade(t *testing.T) {
	decode := AlpacaTradeDecoder(market.MarketTypeCrypto)

	tick, ok, err := decode([]byte(`[{"T":"t","S":"BTC/USD","p":65000.5,"s":0.01,"t":"2026-08-01T12:00:00Z"}]`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "BTC/USD", tick.Symbol)
	require.True(t, tick.Price.Equal(decimal.NewFromFloat(65000.5)))
	require.Equal(t, market.MarketTypeCrypto, tick.MarketType)
}

type fakeBackfillStore struct {
	inserted []market.Tick
}

func (f *fakeBackfillStore) InsertTick(ctx context.Context, t market.Tick) error {
	f.inserted = append(f.inserted, t)
	return nil
}

func TestBackfiller_PagesUntilEmptyToken(t *testing.T) {
	pages := [][]market.Tick{
		{{Symbol: "AAPL", Timestamp: 1}, {Symbol: "AAPL", Timestamp: 2}},
		{{Symbol: "AAPL", Timestamp: 3}},
	}
	calls := 0
	fetch := func(ctx context.Context, symbol string, from, to time.Time, pageToken string) ([]market.Tick, string, error) {
		page := pages[calls]
		calls++
		if calls < len(pages) {
			return page, "next", nil
		}
		return page, "", nil
	}

	store := &fakeBackfillStore{}
	limiter := ratelimit.New(200, 60*time.Second)
	b := NewBackfiller("alpaca", fetch, store, limiter, zerolog.Nop())

	err := b.Run(context.Background(), "AAPL", time.Unix(0, 0), time.Unix(100, 0))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, store.inserted, 3)
	for _, tick := range store.inserted {
		require.Equal(t, "alpaca", tick.Source)
	}
}
