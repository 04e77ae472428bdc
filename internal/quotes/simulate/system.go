package simulate

import (
	"context"

	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/mdsource"
)

// System emits process-like metrics once per second. msg_rate is a running
// counter so it only ever grows.
type System struct {
	base
	msgCount uint64
}

func NewSystem(f *freq.Control, opts ...Option) *System {
	return &System{base: newBase("sim-system", f, SystemCadence, opts)}
}

func (s *System) Run(ctx context.Context, pub mdsource.Publisher) error {
	return s.loop(ctx, pub, s.tick)
}

func (s *System) tick() []event.Event {
	s.msgCount += 50 + s.rng.Uint64N(150) // [50, 200)
	return []event.Event{event.SystemMetric{
		CPUPct:  s.uniform(10, 80),
		MemMB:   500 + s.rng.Uint64N(1500),
		MsgRate: s.msgCount,
		Ts:      s.now(),
	}}
}

var _ mdsource.Source = (*System)(nil)
