package mdsource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySource struct {
	name string
	mu   sync.Mutex
	runs []time.Time
	// behave decides what attempt n (0-based) does
	behave func(ctx context.Context, n int, pub Publisher) error
}

func (f *flakySource) Name() string { return f.name }

func (f *flakySource) Run(ctx context.Context, pub Publisher) error {
	f.mu.Lock()
	n := len(f.runs)
	f.runs = append(f.runs, time.Now())
	f.mu.Unlock()
	return f.behave(ctx, n, pub)
}

func (f *flakySource) attempts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.runs...)
}

func TestRunner_ReconnectsWithinFixedDelay(t *testing.T) {
	const delay = 40 * time.Millisecond
	src := &flakySource{name: "flaky", behave: func(ctx context.Context, n int, pub Publisher) error {
		switch n % 3 {
		case 0:
			return errors.New("connection closed")
		case 1:
			panic("bad frame")
		default:
			return nil // clean end of stream still reconnects
		}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(PublisherFunc(func([]byte) {}), src)
	r.ReconnectDelay = delay
	r.Run(ctx)

	require.Eventually(t, func() bool { return len(src.attempts()) >= 8 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	r.Wait()

	runs := src.attempts()
	for i := 1; i < len(runs); i++ {
		gap := runs[i].Sub(runs[i-1])
		assert.GreaterOrEqual(t, gap, delay, "attempt %d too early", i)
		assert.Less(t, gap, delay+150*time.Millisecond, "attempt %d too late", i)
	}
	assert.Equal(t, Disconnected, r.State("flaky"))
}

func TestRunner_StateFollowsStream(t *testing.T) {
	release := make(chan struct{})
	src := &flakySource{name: "live", behave: func(ctx context.Context, n int, pub Publisher) error {
		pub.Publish([]byte(`{"type":"price"}`))
		select {
		case <-release:
			return errors.New("upstream closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}}

	var mu sync.Mutex
	var got [][]byte
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRunner(PublisherFunc(func(b []byte) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	}), src)
	r.ReconnectDelay = time.Hour
	r.Run(ctx)

	require.Eventually(t, func() bool { return r.State("live") == Streaming }, time.Second, time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return r.State("live") == Disconnected }, time.Second, time.Millisecond)

	select {
	case err := <-r.Err:
		assert.Contains(t, err.Error(), "live: upstream closed")
		var se *SourceError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "live", se.Source)
	case <-time.After(time.Second):
		t.Fatal("no error reported")
	}

	cancel()
	r.Wait()
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
}

func TestRunner_StopsOnContextCancel(t *testing.T) {
	src := &flakySource{name: "gen", behave: func(ctx context.Context, n int, pub Publisher) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(PublisherFunc(func([]byte) {}), src)
	r.Run(ctx)
	require.Eventually(t, func() bool { return len(src.attempts()) == 1 }, time.Second, time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() { r.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Len(t, src.attempts(), 1)
}

func TestRunner_StaggeredStart(t *testing.T) {
	var mu sync.Mutex
	starts := map[string]time.Time{}
	mk := func(name string) *flakySource {
		return &flakySource{name: name, behave: func(ctx context.Context, n int, pub Publisher) error {
			mu.Lock()
			starts[name] = time.Now()
			mu.Unlock()
			<-ctx.Done()
			return ctx.Err()
		}}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(PublisherFunc(func([]byte) {}), mk("a"), mk("b"))
	r.Stagger = 30 * time.Millisecond
	t0 := time.Now()
	r.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) == 2
	}, time.Second, time.Millisecond)
	cancel()
	r.Wait()

	assert.GreaterOrEqual(t, starts["b"].Sub(t0), 30*time.Millisecond)
}
