package tickfeed

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/market"
)

// alpacaFrame is one element of an Alpaca WebSocket trade-stream array.
// T is the message type: "t" for a trade, "success"/"subscription" for
// control frames that AlpacaTradeDecoder skips.
type alpacaFrame struct {
	T string  `json:"T"`
	S string  `json:"S"`
	P float64 `json:"p"`
	Sz float64 `json:"s"`
	Ts string `json:"t"`
}

// AlpacaTradeDecoder decodes Alpaca's stocks/crypto trade stream, grounded
// on original_source/src/pipelines/alpaca.py's trade record shape
// ({"p": price, "s": size, "t": RFC3339 timestamp}). Alpaca delivers an
// array of frames per WebSocket message; only the first trade frame in
// the array is returned, and later trade frames in the same message are
// not decoded.
func AlpacaTradeDecoder(marketType market.MarketType) Decoder {
	return func(raw []byte) (market.Tick, bool, error) {
		var frames []alpacaFrame
		if err := json.Unmarshal(raw, &frames); err != nil {
			return market.Tick{}, false, err
		}
		for _, f := range frames {
			if f.T != "t" {
				continue
			}
			ts, err := time.Parse(time.RFC3339Nano, f.Ts)
			if err != nil {
				return market.Tick{}, false, err
			}
			return market.Tick{
				Symbol:     f.S,
				MarketType: marketType,
				Price:      decimal.NewFromFloat(f.P),
				Size:       decimal.NewFromFloat(f.Sz),
				Timestamp:  ts.Unix(),
			}, true, nil
		}
		return market.Tick{}, false, nil
	}
}
