package app

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/mdsource"
	"streamex.com/internal/quotes/ws"
	"streamex.com/pkg/common"
)

func init() { gin.SetMode(gin.TestMode) }

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, _, err := LoadConfig([]string{"--http.addr", "127.0.0.1:0"})
	require.NoError(t, err)
	return cfg
}

func start(t *testing.T, cfg Config) (*App, string) {
	t.Helper()
	a, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("run: %v", err)
	}
	return a, a.Addr().String()
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, _, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.False(t, cfg.LiveData)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, 500, cfg.Hub.Capacity)
	assert.Equal(t, int64(50), cfg.Frequency.InitialMs)
	assert.Equal(t, []string{"btcusdt", "ethusdt", "solusdt"}, cfg.Binance.Symbols)
	assert.Equal(t, 5*time.Second, cfg.Binance.ReconnectDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Binance.Stagger)
	assert.Equal(t, 60*time.Second, cfg.Session.PongWait)
	assert.Zero(t, cfg.Session.ControlRate, "control throttle is off unless configured")
}

func TestNewWSServer_ControlThrottle(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, a.newWSServer(context.Background()).Limits)

	cfg.Session.ControlRate = 20
	a, err = New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NotNil(t, a.newWSServer(ctx).Limits)
}

func TestLoadConfig_LiveDataFromEnv(t *testing.T) {
	t.Setenv("USE_LIVE_DATA", "true")
	cfg, _, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.True(t, cfg.LiveData)
}

func TestNew_LiveSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.LiveData = true
	a, err := New(cfg)
	require.NoError(t, err)

	var names []string
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{
		"binance-ticker-btcusdt", "binance-ticker-ethusdt", "binance-ticker-solusdt",
		"binance-trades", "sim-system",
	}, names)
	assert.Equal(t, "live", a.Mode())
}

func TestApp_SimulatedEndToEnd(t *testing.T) {
	a, addr := start(t, testConfig(t))
	base := "http://" + addr

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	var h HealthDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	resp.Body.Close()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "simulated", h.Mode)
	assert.Equal(t, 500, h.Capacity)
	assert.Len(t, h.Sources, 4)
	assert.Empty(t, h.LastErrors)

	c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer c.Close()

	// simulated producers are already publishing
	seen := map[event.Type]bool{}
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for !seen[event.TypePrice] || !seen[event.TypeBook] || !seen[event.TypeTrade] {
		_, b, err := c.ReadMessage()
		require.NoError(t, err)
		ev, err := event.Decode(b)
		require.NoError(t, err)
		seen[ev.Kind()] = true
	}

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"frequency_ms":5}`)))
	require.Eventually(t, func() bool { return a.freq.Read() == freq.MinMs }, time.Second, 5*time.Millisecond)

	resp, err = http.Get(base + "/api/v1/frequency")
	require.NoError(t, err)
	var body struct {
		common.Response
		Data ws.FrequencyDTO `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, int64(10), body.Data.FrequencyMs)
	assert.Equal(t, int64(1000), body.Data.MaxMs)
	assert.NotEmpty(t, resp.Header.Get(common.HeaderRequestID))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, mdsource.Streaming, a.runner.State("sim-price"))
}

func TestApp_LiveModeRecoversFromDeadUpstream(t *testing.T) {
	cfg := testConfig(t)
	cfg.LiveData = true
	cfg.Binance.BaseURL = "ws://127.0.0.1:1"
	cfg.Binance.ReconnectDelay = 50 * time.Millisecond
	cfg.Binance.Stagger = 0
	a, addr := start(t, cfg)

	// the upstream never answers, yet system metrics still flow
	c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := c.ReadMessage()
	require.NoError(t, err)
	ev, err := event.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, event.TypeSystem, ev.Kind())

	assert.NotEqual(t, mdsource.Streaming, a.runner.State("binance-trades"))

	// failed dials show up on /healthz
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var h HealthDTO
		if json.NewDecoder(resp.Body).Decode(&h) != nil {
			return false
		}
		return strings.Contains(h.LastErrors["binance-trades"], "dial")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestApp_BindFailureIsReturned(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.HTTP.Addr = ln.Addr().String()
	a, err := New(cfg)
	require.NoError(t, err)
	err = a.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "listen"))
}
