// live.go implements a generic REST venue adapter. Structurally modeled on
// dhan.go (JSON REST, access-token header auth, 401/429 status mapping)
// but ported onto go-resty/resty/v2 instead of a hand-rolled
// net/http.Client, and without locking to one vendor's wire format since
// no specific venue is named for the live adapter.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/bus"
	"github.com/nitinkhare/tradeforge/internal/events"
	"github.com/nitinkhare/tradeforge/internal/market"
	"github.com/nitinkhare/tradeforge/internal/ratelimit"
)

// LiveConfig holds venue API configuration.
type LiveConfig struct {
	AccessToken string `json:"access_token"`
	BaseURL     string `json:"base_url"`
}

// Live implements Broker against an external REST venue.
type Live struct {
	cfg     LiveConfig
	client  *resty.Client
	limiter *ratelimit.Limiter
	bus     bus.Bus // used for StreamCandles, which rides the candles.close channel
}

func init() {
	Registry["live"] = NewLive
}

func NewLive(configJSON []byte) (Broker, error) {
	var cfg LiveConfig
	if err := parseJSON(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("live broker: parse config: %w", err)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("live broker: access_token is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("live broker: base_url is required")
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("access-token", cfg.AccessToken).
		SetTimeout(30 * time.Second)

	return &Live{
		cfg:     cfg,
		client:  client,
		limiter: ratelimit.New(200, 60*time.Second),
	}, nil
}

// WithBus attaches the event bus used for StreamCandles; set by the
// supervisor after construction since the registry factory signature
// carries no bus dependency.
func (l *Live) WithBus(b bus.Bus) *Live {
	l.bus = b
	return l
}

type liveOrderReq struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Quantity    string  `json:"quantity,omitempty"`
	Notional    string  `json:"notional,omitempty"`
	LimitPrice  *string `json:"limit_price,omitempty"`
	StopPrice   *string `json:"stop_price,omitempty"`
	TimeInForce string  `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type liveOrderResp struct {
	OrderID        string  `json:"order_id"`
	ClientOrderID  string  `json:"client_order_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Type           string  `json:"type"`
	Quantity       string  `json:"quantity"`
	FilledQuantity string  `json:"filled_quantity"`
	LimitPrice     *string `json:"limit_price"`
	StopPrice      *string `json:"stop_price"`
	AvgFillPrice   *string `json:"avg_fill_price"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	FilledAt       *string `json:"filled_at"`
	TimeInForce    string  `json:"time_in_force"`
}

type liveErrorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (l *Live) do(ctx context.Context, req *resty.Request, method, path string) (*resty.Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("broker: %w: %v", ErrConnectionLost, err)
	}
	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return nil, ErrAuthenticationFailed
	case http.StatusTooManyRequests:
		retryAfter := time.Second
		if h := resp.Header().Get("Retry-After"); h != "" {
			if d, err := time.ParseDuration(h + "s"); err == nil {
				retryAfter = d
			}
		}
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	case http.StatusNotFound:
		return nil, ErrSymbolNotFound
	}
	if resp.StatusCode() >= 400 {
		var apiErr liveErrorResp
		_ = parseJSON(resp.Body(), &apiErr)
		if apiErr.Message != "" {
			return nil, fmt.Errorf("broker: %w: %s", ErrOrderRejected, apiErr.Message)
		}
		return nil, fmt.Errorf("broker: venue error %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return resp, nil
}

func (l *Live) SubmitOrder(ctx context.Context, req market.OrderRequest) (market.OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return market.OrderResponse{}, fmt.Errorf("broker: %w: %v", ErrInvalidOrderParameters, err)
	}
	body := liveOrderReq{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.Quantity.IsPositive() {
		body.Quantity = req.Quantity.String()
	}
	if req.Notional.IsPositive() {
		body.Notional = req.Notional.String()
	}
	if req.LimitPrice != nil {
		s := req.LimitPrice.String()
		body.LimitPrice = &s
	}
	if req.StopPrice != nil {
		s := req.StopPrice.String()
		body.StopPrice = &s
	}

	var out liveOrderResp
	resp, err := l.do(ctx, l.client.R().SetContext(ctx).SetBody(body).SetResult(&out), resty.MethodPost, "/v1/orders")
	if err != nil {
		return market.OrderResponse{}, fmt.Errorf("broker: submit order: %w", err)
	}
	_ = resp
	return decodeOrderResp(out)
}

func (l *Live) ModifyOrder(ctx context.Context, orderID string, newLimitPrice, newStopPrice *string) (market.OrderResponse, error) {
	body := map[string]any{}
	if newLimitPrice != nil {
		body["limit_price"] = *newLimitPrice
	}
	if newStopPrice != nil {
		body["stop_price"] = *newStopPrice
	}
	var out liveOrderResp
	_, err := l.do(ctx, l.client.R().SetContext(ctx).SetBody(body).SetResult(&out), resty.MethodPatch, "/v1/orders/"+orderID)
	if err != nil {
		return market.OrderResponse{}, fmt.Errorf("broker: modify order: %w", err)
	}
	return decodeOrderResp(out)
}

func (l *Live) CancelOrder(ctx context.Context, orderID string) error {
	_, err := l.do(ctx, l.client.R().SetContext(ctx), resty.MethodDelete, "/v1/orders/"+orderID)
	if err != nil {
		return fmt.Errorf("broker: cancel order: %w", err)
	}
	return nil
}

func (l *Live) GetOrderStatus(ctx context.Context, orderID string) (market.OrderResponse, error) {
	var out liveOrderResp
	_, err := l.do(ctx, l.client.R().SetContext(ctx).SetResult(&out), resty.MethodGet, "/v1/orders/"+orderID)
	if err != nil {
		return market.OrderResponse{}, fmt.Errorf("broker: get order status: %w", err)
	}
	return decodeOrderResp(out)
}

type liveAccountResp struct {
	AccountID string `json:"account_id"`
	Cash      string `json:"cash"`
	Equity    string `json:"equity"`
}

func (l *Live) GetAccount(ctx context.Context) (market.Account, error) {
	var out liveAccountResp
	_, err := l.do(ctx, l.client.R().SetContext(ctx).SetResult(&out), resty.MethodGet, "/v1/account")
	if err != nil {
		return market.Account{}, fmt.Errorf("broker: get account: %w", err)
	}
	cash, _ := decimal.NewFromString(out.Cash)
	equity, _ := decimal.NewFromString(out.Equity)
	return market.Account{AccountID: out.AccountID, Cash: cash, Equity: equity}, nil
}

// StreamCandles rides the candles.close bus channel filtered to (symbol,
// tf), matching the design note that every broker variant's streaming
// operation returns a uniform channel regardless of whether the underlying
// source is sync or async.
func (l *Live) StreamCandles(ctx context.Context, symbol string, tf market.Timeframe) (<-chan market.OHLCV, error) {
	if l.bus == nil {
		return nil, fmt.Errorf("broker: live adapter has no bus attached, call WithBus first")
	}
	msgs, _, err := l.bus.Subscribe(ctx, events.ChannelCandlesClose)
	if err != nil {
		return nil, fmt.Errorf("broker: %w: %v", ErrConnectionLost, err)
	}
	out := make(chan market.OHLCV)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c events.CandleClose
				if err := parseJSON(msg.Payload, &c); err != nil {
					continue
				}
				if c.Symbol != symbol || c.Timeframe != string(tf) {
					continue
				}
				ts, err := time.Parse(time.RFC3339, c.Timestamp)
				if err != nil {
					continue
				}
				candle := market.OHLCV{
					Source: c.Broker, Symbol: c.Symbol, Timeframe: market.Timeframe(c.Timeframe),
					Timestamp: ts.Unix(), Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
				}
				select {
				case out <- candle:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeOrderResp(out liveOrderResp) (market.OrderResponse, error) {
	qty, _ := decimal.NewFromString(out.Quantity)
	filled, _ := decimal.NewFromString(out.FilledQuantity)
	resp := market.OrderResponse{
		OrderID:        out.OrderID,
		ClientOrderID:  out.ClientOrderID,
		Symbol:         out.Symbol,
		Side:           market.OrderSide(out.Side),
		Type:           market.OrderType(out.Type),
		Quantity:       qty,
		FilledQuantity: filled,
		Status:         market.OrderStatus(out.Status),
		TimeInForce:    market.TimeInForce(out.TimeInForce),
	}
	if out.LimitPrice != nil {
		if p, err := decimal.NewFromString(*out.LimitPrice); err == nil {
			resp.LimitPrice = &p
		}
	}
	if out.StopPrice != nil {
		if p, err := decimal.NewFromString(*out.StopPrice); err == nil {
			resp.StopPrice = &p
		}
	}
	if out.AvgFillPrice != nil {
		if p, err := decimal.NewFromString(*out.AvgFillPrice); err == nil {
			resp.AvgFillPrice = &p
		}
	}
	if out.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, out.CreatedAt); err == nil {
			resp.CreatedAt = t
		}
	}
	if out.FilledAt != nil {
		if t, err := time.Parse(time.RFC3339, *out.FilledAt); err == nil {
			resp.FilledAt = &t
		}
	}
	return resp, nil
}
