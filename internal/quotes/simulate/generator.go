// Package simulate synthesizes canonical market data. Every generator is a
// mdsource.Source that runs until its context is cancelled.
package simulate

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/mdsource"
	"streamex.com/pkg/metrics"
)

// Per-stream pacing against the shared frequency control.
var (
	PriceCadence  = freq.Cadence{Mult: 1, FloorMs: 10}
	BookCadence   = freq.Cadence{Mult: 2, FloorMs: 50}
	TradeCadence  = freq.Cadence{Mult: 3, FloorMs: 50}
	SystemCadence = freq.Cadence{Fixed: time.Second}
)

// SleepFunc waits d or until ctx is done; false means stop.
type SleepFunc func(ctx context.Context, d time.Duration) bool

// base carries what every generator shares.
type base struct {
	name    string
	freq    *freq.Control
	cadence freq.Cadence
	rng     *rand.Rand
	sleep   SleepFunc
	now     func() int64
}

// Option tunes a generator, mostly for tests.
type Option func(*base)

// WithRand fixes the random source.
func WithRand(r *rand.Rand) Option { return func(b *base) { b.rng = r } }

// WithSleep replaces the inter-cycle wait.
func WithSleep(s SleepFunc) Option { return func(b *base) { b.sleep = s } }

// WithClock replaces the timestamp source.
func WithClock(now func() int64) Option { return func(b *base) { b.now = now } }

func newBase(name string, f *freq.Control, cd freq.Cadence, opts []Option) base {
	b := base{
		name:    name,
		freq:    f,
		cadence: cd,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:   sleepCtx,
		now:     event.NowMicros,
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b *base) Name() string { return b.name }

// loop runs tick, publishes what it returns and paces itself until ctx ends.
func (b *base) loop(ctx context.Context, pub mdsource.Publisher, tick func() []event.Event) error {
	for {
		for _, ev := range tick() {
			payload, err := event.Encode(ev)
			if err != nil {
				// 只丢这一条，不影响下一轮
				metrics.ObserveDrop(b.name, "encode")
				continue
			}
			pub.Publish(payload)
			metrics.ObservePublish(b.name, string(ev.Kind()))
		}
		if !b.sleep(ctx, b.cadence.Interval(b.freq)) {
			return ctx.Err()
		}
	}
}

// uniform in [lo, hi)
func (b *base) uniform(lo, hi float64) float64 {
	return lo + b.rng.Float64()*(hi-lo)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// All returns the four simulated streams.
func All(f *freq.Control, opts ...Option) []mdsource.Source {
	return []mdsource.Source{
		NewPrice(f, opts...),
		NewBook(f, opts...),
		NewTrade(f, opts...),
		NewSystem(f, opts...),
	}
}
