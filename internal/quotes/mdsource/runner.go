package mdsource

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"streamex.com/pkg/logger"
	"streamex.com/pkg/metrics"
	"streamex.com/pkg/ratelimit"
	"streamex.com/pkg/safe"
	"streamex.com/pkg/xerr"
)

// State of one supervised source.
type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// Runner keeps every source running for the lifetime of ctx: when an attempt
// fails it waits ReconnectDelay and starts a new one, forever.
type Runner struct {
	sources []Source
	pub     Publisher

	// Err 输出源错误（*SourceError，非阻塞，满了直接丢）
	Err chan error

	ReconnectDelay time.Duration
	// Stagger delays the start of each subsequent source.
	Stagger time.Duration

	breakers *ratelimit.Manager
	mu       sync.RWMutex
	states   map[string]State
	wg       sync.WaitGroup
}

func NewRunner(pub Publisher, sources ...Source) *Runner {
	r := &Runner{
		sources:        sources,
		pub:            pub,
		Err:            make(chan error, 128),
		ReconnectDelay: 5 * time.Second,
		states:         make(map[string]State, len(sources)),
	}
	for _, s := range sources {
		r.setState(s.Name(), Disconnected)
	}
	return r
}

// Run starts one goroutine per source and returns immediately. Wait blocks
// until they all exit after ctx is done.
func (r *Runner) Run(ctx context.Context) {
	// half-open again before the next attempt so the breaker never delays a reconnect
	halfOpen := max(r.ReconnectDelay/2, time.Millisecond)
	r.breakers = ratelimit.NewManager(ratelimit.Rule{
		MaxRequests:             1,
		Timeout:                 halfOpen,
		TripConsecutiveFailures: 3,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, ratelimit.StateName(to))
			logger.Warn(ctx, "source health changed",
				zap.String("source", name),
				zap.String("from", ratelimit.StateName(from)),
				zap.String("to", ratelimit.StateName(to)),
			)
		},
	}, nil)

	for i, s := range r.sources {
		src := s
		delay := time.Duration(i) * r.Stagger
		r.wg.Add(1)
		safe.GoCtx(ctx, func(ctx context.Context) {
			defer r.wg.Done()
			if delay > 0 && !sleepCtx(ctx, delay) {
				return
			}
			r.runOne(ctx, src)
		})
	}
}

func (r *Runner) Wait() { r.wg.Wait() }

// State returns the last known state of the named source.
func (r *Runner) State(name string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[name]
}

func (r *Runner) setState(name string, s State) {
	r.mu.Lock()
	r.states[name] = s
	r.mu.Unlock()
	metrics.UpstreamState.WithLabelValues(name).Set(float64(s))
}

// streamingPublisher flips the source to Streaming on its first publish.
type streamingPublisher struct {
	Publisher
	once   sync.Once
	onFlip func()
}

func (p *streamingPublisher) Publish(b []byte) {
	p.once.Do(p.onFlip)
	p.Publisher.Publish(b)
}

func (r *Runner) runOne(ctx context.Context, src Source) {
	name := src.Name()
	metrics.SetBreakerState(name, "closed")
	defer r.setState(name, Disconnected)

	for ctx.Err() == nil {
		r.setState(name, Connecting)
		pub := &streamingPublisher{Publisher: r.pub, onFlip: func() { r.setState(name, Streaming) }}

		err := r.breakers.Execute(name, func() error {
			return safe.Call(func() error { return src.Run(ctx, pub) })
		})
		r.setState(name, Disconnected)

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}

		if err == nil {
			err = xerr.New(xerr.UpstreamUnavailable, "stream ended")
		}
		metrics.UpstreamAttemptsTotal.WithLabelValues(name, xerr.Label(err)).Inc()
		if !errors.Is(err, gobreaker.ErrOpenState) {
			logger.Warn(ctx, "source disconnected, reconnecting",
				zap.String("source", name),
				zap.Duration("delay", r.ReconnectDelay),
				zap.Error(err),
			)
		}
		select {
		case r.Err <- &SourceError{Source: name, Err: err}:
		default:
		}

		if !sleepCtx(ctx, r.ReconnectDelay) {
			return
		}
	}
}

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

// SourceError is one failed attempt of the named source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string { return e.Source + ": " + e.Err.Error() }
func (e *SourceError) Unwrap() error { return e.Err }
