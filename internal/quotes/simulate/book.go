package simulate

import (
	"context"

	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/mdsource"
)

const (
	BookLevels = 5
	// levelStep is the per-level offset as a fraction of mid.
	levelStep = 0.0001
)

var bookSeeds = []seed{
	{"BTC/USD", 45000},
	{"ETH/USD", 2500},
}

// Book emits a five-level snapshot per symbol per cycle around a fixed mid.
// Level i sits (i+1) steps away from mid, so the book is never crossed.
type Book struct {
	base
	seeds []seed
}

func NewBook(f *freq.Control, opts ...Option) *Book {
	return &Book{base: newBase("sim-book", f, BookCadence, opts), seeds: bookSeeds}
}

func (b *Book) Run(ctx context.Context, pub mdsource.Publisher) error {
	return b.loop(ctx, pub, b.tick)
}

func (b *Book) tick() []event.Event {
	out := make([]event.Event, 0, len(b.seeds))
	ts := b.now()
	for _, s := range b.seeds {
		mid := s.Price
		bids := make([]event.Level, BookLevels)
		asks := make([]event.Level, BookLevels)
		for i := 0; i < BookLevels; i++ {
			off := float64(i+1) * mid * levelStep
			bids[i] = event.Level{mid - off, b.uniform(0.1, 10)}
			asks[i] = event.Level{mid + off, b.uniform(0.1, 10)}
		}
		out = append(out, event.BookDepth{Symbol: s.Symbol, Bids: bids, Asks: asks, Ts: ts})
	}
	return out
}

var _ mdsource.Source = (*Book)(nil)
