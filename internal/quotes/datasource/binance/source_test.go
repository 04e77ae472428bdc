package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/mdsource"
)

// fakeUpstream accepts websocket clients, writes frames, then hangs up.
type fakeUpstream struct {
	srv     *httptest.Server
	frames  []string
	mu      sync.Mutex
	paths   []string
	dials   atomic.Int32
	dialsAt []time.Time
}

func newFakeUpstream(t *testing.T, frames ...string) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{frames: frames}
	up := websocket.Upgrader{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		u.mu.Lock()
		u.paths = append(u.paths, r.URL.RequestURI())
		u.dialsAt = append(u.dialsAt, time.Now())
		u.mu.Unlock()
		u.dials.Add(1)
		for _, f := range u.frames {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *fakeUpstream) conn() Conn {
	c := DefaultConn()
	c.BaseURL = "ws" + strings.TrimPrefix(u.srv.URL, "http")
	c.DialTimeout = time.Second
	return c
}

type sink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *sink) Publish(b []byte) {
	ev, err := event.Decode(b)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *sink) snapshot() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func TestTickerSource_PublishesAndDropsMalformed(t *testing.T) {
	up := newFakeUpstream(t,
		`{"s":"BTCUSDT","c":"45000.50","v":"12.9"}`,
		`{"s":"BTCUSDT","c":"oops","v":"1"}`,
		`not json`,
		`{"s":"BTCUSDT","c":"45001.00","v":"13"}`,
	)
	src := NewTickerSource(up.conn(), "BTCUSDT")
	assert.Equal(t, "binance-ticker-btcusdt", src.Name())

	out := &sink{}
	err := src.Run(context.Background(), out)
	require.Error(t, err, "server hang-up ends the attempt")

	got := out.snapshot()
	require.Len(t, got, 2)
	p0 := got[0].(event.Price)
	assert.Equal(t, "BTC/USD", p0.Symbol)
	assert.Equal(t, 45000.5, p0.Price)
	assert.Equal(t, uint64(12), p0.Volume)
	assert.Positive(t, p0.Ts)
	assert.Equal(t, 45001.0, got[1].(event.Price).Price)

	assert.Equal(t, []string{"/ws/btcusdt@ticker"}, up.paths)
}

func TestTradeSource_CombinedStream(t *testing.T) {
	up := newFakeUpstream(t,
		`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"45000","q":"0.5","m":false}}`,
		`{"stream":"ethusdt@trade","data":{"s":"ETHUSDT","p":"2500","q":"1","m":true}}`,
	)
	src := NewTradeSource(up.conn(), []string{"BTCUSDT", "ethusdt"})

	out := &sink{}
	_ = src.Run(context.Background(), out)

	got := out.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, event.SideBuy, got[0].(event.Trade).Side)
	assert.Equal(t, "ETH/USD", got[1].(event.Trade).Symbol)
	assert.Equal(t, event.SideSell, got[1].(event.Trade).Side)
	assert.Equal(t, []string{"/stream?streams=btcusdt@trade/ethusdt@trade"}, up.paths)
}

func TestTickerSource_StopsOnCancel(t *testing.T) {
	hold := make(chan struct{})
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		<-hold
	}))
	defer srv.Close()
	defer close(hold)

	c := DefaultConn()
	c.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewTickerSource(c, "btcusdt").Run(ctx, &sink{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
}

// pingCounter is an upstream that stays open and counts the pings it gets.
func pingCounter(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var pings atomic.Int32
	hold := make(chan struct{})
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.SetPingHandler(func(data string) error {
			pings.Add(1)
			return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
		go func() {
			<-hold
			_ = c.Close()
		}()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		close(hold)
		srv.Close()
	})
	return srv, &pings
}

func TestTickerSource_PingsUpstream(t *testing.T) {
	srv, pings := pingCounter(t)
	c := DefaultConn()
	c.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	c.PingPeriod = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewTickerSource(c, "btcusdt").Run(ctx, &sink{}) }()

	require.Eventually(t, func() bool { return pings.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
}

func TestKeepAlive_ReturnsOnceConnClosed(t *testing.T) {
	srv, pings := pingCounter(t)
	c := DefaultConn()
	c.PingPeriod = 20 * time.Millisecond

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	// the pong replies are only consumed while reading
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		c.keepAlive(context.Background(), ws)
		close(done)
	}()
	require.Eventually(t, func() bool { return pings.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	_ = ws.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive kept running on a closed connection")
	}
}

func TestTickerSource_ReconnectsThroughRunner(t *testing.T) {
	up := newFakeUpstream(t, `{"s":"SOLUSDT","c":"120.5","v":"3"}`)
	out := &sink{}

	r := mdsource.NewRunner(out, NewTickerSource(up.conn(), "solusdt"))
	r.ReconnectDelay = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	r.Run(ctx)

	require.Eventually(t, func() bool { return up.dials.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	r.Wait()

	up.mu.Lock()
	at := append([]time.Time(nil), up.dialsAt...)
	up.mu.Unlock()
	for i := 1; i < len(at); i++ {
		gap := at[i].Sub(at[i-1])
		assert.GreaterOrEqual(t, gap, 100*time.Millisecond)
		assert.Less(t, gap, 400*time.Millisecond)
	}
	for _, ev := range out.snapshot() {
		assert.Equal(t, "SOL/USD", ev.(event.Price).Symbol)
	}
}

func TestDial_FailsFastWhenUpstreamDown(t *testing.T) {
	c := DefaultConn()
	c.BaseURL = "ws://127.0.0.1:1"
	c.DialTimeout = 500 * time.Millisecond
	err := NewTickerSource(c, "btcusdt").Run(context.Background(), &sink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial binance-ticker-btcusdt")
}
