package binance

import (
	"context"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"streamex.com/internal/quotes/event"
	"streamex.com/internal/quotes/mdsource"
	"streamex.com/pkg/logger"
	"streamex.com/pkg/metrics"
	"streamex.com/pkg/safe"
	"streamex.com/pkg/xerr"
)

const DefaultBaseURL = "wss://stream.binance.com:9443"

// Conn holds the connection settings shared by both adapters.
type Conn struct {
	BaseURL     string // e.g. wss://stream.binance.com:9443
	ReadLimit   int64
	PingPeriod  time.Duration
	PongWait    time.Duration
	WriteWait   time.Duration
	DialTimeout time.Duration
	Dialer      *websocket.Dialer
}

func DefaultConn() Conn {
	return Conn{
		BaseURL:     DefaultBaseURL,
		ReadLimit:   1 << 20,
		PingPeriod:  30 * time.Second,
		PongWait:    60 * time.Second,
		WriteWait:   2 * time.Second,
		DialTimeout: 10 * time.Second,
		Dialer:      websocket.DefaultDialer,
	}
}

// TickerSource streams <symbol>@ticker and publishes Price events.
type TickerSource struct {
	Conn
	Symbol string // lower case, e.g. btcusdt
}

func NewTickerSource(c Conn, symbol string) *TickerSource {
	return &TickerSource{Conn: c, Symbol: strings.ToLower(symbol)}
}

func (s *TickerSource) Name() string { return "binance-ticker-" + s.Symbol }

func (s *TickerSource) URL() string { return s.BaseURL + "/ws/" + s.Symbol + "@ticker" }

func (s *TickerSource) Run(ctx context.Context, pub mdsource.Publisher) error {
	return s.stream(ctx, s.Name(), s.URL(), pub, func(b []byte) (event.Event, error) {
		return ParseTicker(b, event.NowMicros())
	})
}

// TradeSource streams <sym>@trade for every symbol over one combined connection.
type TradeSource struct {
	Conn
	Symbols []string
}

func NewTradeSource(c Conn, symbols []string) *TradeSource {
	lower := make([]string, len(symbols))
	for i, s := range symbols {
		lower[i] = strings.ToLower(s)
	}
	return &TradeSource{Conn: c, Symbols: lower}
}

func (s *TradeSource) Name() string { return "binance-trades" }

func (s *TradeSource) URL() string {
	streams := make([]string, len(s.Symbols))
	for i, sym := range s.Symbols {
		streams[i] = sym + "@trade"
	}
	return s.BaseURL + "/stream?streams=" + strings.Join(streams, "/")
}

func (s *TradeSource) Run(ctx context.Context, pub mdsource.Publisher) error {
	return s.stream(ctx, s.Name(), s.URL(), pub, func(b []byte) (event.Event, error) {
		return ParseTrade(b, event.NowMicros())
	})
}

// stream runs one connection: dial, keep-alive pings, read and translate until
// the connection fails or ctx ends. The caller reconnects.
func (c *Conn) stream(ctx context.Context, name, url string, pub mdsource.Publisher, translate func([]byte) (event.Event, error)) error {
	dctx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	ws, _, err := c.Dialer.DialContext(dctx, url, nil)
	cancel()
	if err != nil {
		return xerr.Wrap(err, xerr.UpstreamUnavailable, "dial "+name)
	}
	defer ws.Close()
	logger.Info(ctx, "upstream connected", zap.String("source", name), zap.String("url", url))

	ws.SetReadLimit(c.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(c.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.PongWait))
	})

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()
	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(connCtx, func() { _ = ws.Close() })
	defer stop()

	safe.GoCtx(connCtx, func(ctx context.Context) { c.keepAlive(ctx, ws) })

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerr.Wrap(err, xerr.UpstreamUnavailable, "read "+name)
		}
		// any data proves the link is alive
		_ = ws.SetReadDeadline(time.Now().Add(c.PongWait))

		ev, err := translate(msg)
		if err != nil {
			metrics.ObserveDrop(name, xerr.Label(err))
			continue
		}
		payload, err := event.Encode(ev)
		if err != nil {
			metrics.ObserveDrop(name, "encode")
			continue
		}
		pub.Publish(payload)
		metrics.ObservePublish(name, string(ev.Kind()))
	}
}

// keepAlive pings every PingPeriod and exits on the first failed send.
func (c *Conn) keepAlive(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl is safe alongside the reader and the default pong replier
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.WriteWait)); err != nil {
				logger.Debug(ctx, "upstream ping failed", zap.Error(err))
				return
			}
		}
	}
}

var (
	_ mdsource.Source = (*TickerSource)(nil)
	_ mdsource.Source = (*TradeSource)(nil)
)
