package simulate

import (
	"context"

	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/mdsource"
)

// MaxPriceStep bounds the relative change applied per tick.
const MaxPriceStep = 0.002

type seed struct {
	Symbol string
	Price  float64
}

var priceSeeds = []seed{
	{"BTC/USD", 45000},
	{"ETH/USD", 2500},
	{"SOL/USD", 120},
	{"AAPL", 175},
	{"TSLA", 250},
}

// Price emits one tick per symbol per cycle from a multiplicative random walk.
type Price struct {
	base
	symbols []string
	prices  []float64
}

func NewPrice(f *freq.Control, opts ...Option) *Price {
	p := &Price{base: newBase("sim-price", f, PriceCadence, opts)}
	for _, s := range priceSeeds {
		p.symbols = append(p.symbols, s.Symbol)
		p.prices = append(p.prices, s.Price)
	}
	return p
}

func (p *Price) Run(ctx context.Context, pub mdsource.Publisher) error {
	return p.loop(ctx, pub, p.tick)
}

func (p *Price) tick() []event.Event {
	out := make([]event.Event, 0, len(p.symbols))
	ts := p.now()
	for i, sym := range p.symbols {
		p.prices[i] *= 1 + p.uniform(-MaxPriceStep, MaxPriceStep)
		out = append(out, event.Price{
			Symbol: sym,
			Price:  round2(p.prices[i]),
			Volume: 100 + p.rng.Uint64N(9900), // [100, 10000)
			Ts:     ts,
		})
	}
	return out
}

var _ mdsource.Source = (*Price)(nil)
