package simulate

import (
	"context"

	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/mdsource"
)

type tradeRef struct {
	Symbol string
	Ref    float64
	Spread float64 // price drawn from [Ref-Spread, Ref+Spread)
}

var tradeRefs = []tradeRef{
	{"BTC/USD", 45000, 100},
	{"ETH/USD", 2500, 10},
	{"SOL/USD", 120, 1},
}

// Trade emits one trade per cycle on a uniformly chosen symbol.
type Trade struct {
	base
	refs []tradeRef
}

func NewTrade(f *freq.Control, opts ...Option) *Trade {
	return &Trade{base: newBase("sim-trade", f, TradeCadence, opts), refs: tradeRefs}
}

func (t *Trade) Run(ctx context.Context, pub mdsource.Publisher) error {
	return t.loop(ctx, pub, t.tick)
}

func (t *Trade) tick() []event.Event {
	r := t.refs[t.rng.IntN(len(t.refs))]
	side := event.SideBuy
	if t.rng.IntN(2) == 1 {
		side = event.SideSell
	}
	return []event.Event{event.Trade{
		Symbol: r.Symbol,
		Price:  round2(r.Ref + t.uniform(-r.Spread, r.Spread)),
		Size:   t.uniform(0.01, 5),
		Side:   side,
		Ts:     t.now(),
	}}
}

var _ mdsource.Source = (*Trade)(nil)
