// Package strategy hosts the strategy registry and the embedded DSL
// interpreter that replaces the source platform's "write generated code to
// disk and import it" trick (Design Notes, "Dynamic strategy code"). A
// strategy_id resolves to a Program: a restricted rule tree evaluated over
// (ctx, candle) by Program.Decide. Programs are data, not source text —
// the LLM-side code generator (an out-of-scope external collaborator) is
// expected to emit this JSON shape directly rather than a string of Go.
package strategy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradeforge/internal/market"
)

// Registry maps strategy_id to a compiled Program. Addressed the same way
// the broker package addresses broker connections by name: an explicit map
// guarded by a mutex, populated at startup by LoadDir from a directory of
// JSON rule trees.
type Registry struct {
	mu    sync.RWMutex
	progs map[string]*Program
}

func NewRegistry() *Registry {
	return &Registry{progs: make(map[string]*Program)}
}

func (r *Registry) Register(strategyID string, p *Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progs[strategyID] = p
}

func (r *Registry) Get(strategyID string) (*Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.progs[strategyID]
	return p, ok
}

// Compile parses the JSON rule-tree representation of a strategy into a
// Program. This is the one interpreter entry point the deployment runtime
// and backtest engine call when materialising a strategy_id's code.
func Compile(source []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(source, &p); err != nil {
		return nil, fmt.Errorf("strategy: compile: %w", err)
	}
	for i, rule := range p.Rules {
		if rule.When == nil {
			return nil, fmt.Errorf("strategy: rule %d missing condition", i)
		}
		if rule.Action.Side != market.SideBuy && rule.Action.Side != market.SideSell {
			return nil, fmt.Errorf("strategy: rule %d has invalid side %q", i, rule.Action.Side)
		}
	}
	return &p, nil
}

// Rule is one condition -> action pair. Rules are evaluated in order on
// every candle; the first matching rule's action fires.
type Rule struct {
	When   *Expr  `json:"when"`
	Action Action `json:"action"`
}

// Action describes an order the strategy wants to place when its rule's
// condition is true.
type Action struct {
	Side         market.OrderSide `json:"side"`
	Type         market.OrderType `json:"type"`
	QuantityExpr *Expr            `json:"quantity"`
	NotionalExpr *Expr            `json:"notional,omitempty"`
	LimitExpr    *Expr            `json:"limit_price,omitempty"`
	StopExpr     *Expr            `json:"stop_price,omitempty"`
}

// Program is a strategy compiled down to a flat rule list, the restricted
// DSL the design note calls for in place of compiled plugins.
type Program struct {
	Rules []Rule `json:"rules"`
}

// EvalContext is the (ctx, candle) pair threaded through every Expr
// evaluation: candle history (most recent last, current candle included)
// plus whether a position is currently open (used by exit rules).
type EvalContext struct {
	Candles    []market.OHLCV
	HasOpenQty bool
	OpenQty    float64
}

// Current returns the most recent candle; callers never evaluate against
// an empty history.
func (c EvalContext) Current() market.OHLCV {
	return c.Candles[len(c.Candles)-1]
}

// ExprKind discriminates the node types of the restricted expression tree.
type ExprKind string

const (
	ExprConst       ExprKind = "const"
	ExprIndicator   ExprKind = "indicator"
	ExprClose       ExprKind = "close"
	ExprPositionQty ExprKind = "position_qty"
	ExprCompare     ExprKind = "compare"
	ExprLogical     ExprKind = "logical"
	ExprNot         ExprKind = "not"
)

// Expr is a node in the restricted DSL tree. Only the fields relevant to
// Kind are populated; JSON omits the rest.
type Expr struct {
	Kind ExprKind `json:"kind"`

	// ExprConst
	Value float64 `json:"value,omitempty"`

	// ExprIndicator
	Indicator string `json:"indicator,omitempty"` // sma, ema, rsi, atr, roc, highest_high, lowest_low, avg_volume
	Period    int    `json:"period,omitempty"`

	// ExprCompare / ExprLogical / ExprNot
	Op    string `json:"op,omitempty"` // >, <, >=, <=, ==, and, or
	Left  *Expr  `json:"left,omitempty"`
	Right *Expr  `json:"right,omitempty"`
}

// EvalBool evaluates a condition node to a boolean.
func (e *Expr) EvalBool(ctx EvalContext) bool {
	switch e.Kind {
	case ExprCompare:
		l, r := e.Left.EvalNumber(ctx), e.Right.EvalNumber(ctx)
		switch e.Op {
		case ">":
			return l > r
		case "<":
			return l < r
		case ">=":
			return l >= r
		case "<=":
			return l <= r
		case "==":
			return l == r
		default:
			return false
		}
	case ExprLogical:
		switch e.Op {
		case "and":
			return e.Left.EvalBool(ctx) && e.Right.EvalBool(ctx)
		case "or":
			return e.Left.EvalBool(ctx) || e.Right.EvalBool(ctx)
		default:
			return false
		}
	case ExprNot:
		return !e.Left.EvalBool(ctx)
	default:
		return false
	}
}

// EvalNumber evaluates a value node to a float64, the interpreter's sole
// numeric type (order quantities/prices are re-quantized to decimal by the
// caller once evaluation is done).
func (e *Expr) EvalNumber(ctx EvalContext) float64 {
	switch e.Kind {
	case ExprConst:
		return e.Value
	case ExprClose:
		v, _ := ctx.Current().Close.Float64()
		return v
	case ExprPositionQty:
		return ctx.OpenQty
	case ExprIndicator:
		switch e.Indicator {
		case "sma":
			return SMA(ctx.Candles, e.Period)
		case "ema":
			return EMA(ctx.Candles, e.Period)
		case "rsi":
			return RSI(ctx.Candles, e.Period)
		case "atr":
			return ATR(ctx.Candles, e.Period)
		case "roc":
			return ROC(ctx.Candles, e.Period)
		case "highest_high":
			return HighestHigh(ctx.Candles, e.Period)
		case "lowest_low":
			return LowestLow(ctx.Candles, e.Period)
		case "avg_volume":
			return AverageVolume(ctx.Candles, e.Period)
		default:
			return 0
		}
	default:
		return 0
	}
}

// Decide evaluates the program's rules in order against ctx and returns the
// first matching action, or nil if none match.
func (p *Program) Decide(ctx EvalContext) *market.OrderRequest {
	for _, rule := range p.Rules {
		if !rule.When.EvalBool(ctx) {
			continue
		}
		req := &market.OrderRequest{
			Symbol: ctx.Current().Symbol,
			Side:   rule.Action.Side,
			Type:   rule.Action.Type,
		}
		if rule.Action.QuantityExpr != nil {
			req.Quantity = decimal.NewFromFloat(rule.Action.QuantityExpr.EvalNumber(ctx))
		}
		if rule.Action.NotionalExpr != nil {
			req.Notional = decimal.NewFromFloat(rule.Action.NotionalExpr.EvalNumber(ctx))
		}
		if rule.Action.LimitExpr != nil {
			v := decimal.NewFromFloat(rule.Action.LimitExpr.EvalNumber(ctx))
			req.LimitPrice = &v
		}
		if rule.Action.StopExpr != nil {
			v := decimal.NewFromFloat(rule.Action.StopExpr.EvalNumber(ctx))
			req.StopPrice = &v
		}
		req.TimeInForce = market.TIFDay
		return req
	}
	return nil
}
