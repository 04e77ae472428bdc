// Package client is a reconnecting subscriber for the market-data stream.
// It is what streamctl uses, and what an integration test can point at a
// running server.
package client

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"streamex.com/internal/quotes/event"
	"streamex.com/pkg/logger"
)

type Subscriber struct {
	URL string
	// FrequencyMs, when > 0, is sent as a control frame after every connect.
	FrequencyMs int64
	OnEvent     func(event.Event) // 回调别阻塞太久，否则会拖慢 Read
	OnRaw       func([]byte)      // 可选：调试用，打印原始 JSON

	StableReset    time.Duration // 连接存活多久才重置 backoff
	PingEvery      time.Duration
	ReadTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (s *Subscriber) defaults() {
	if s.StableReset == 0 {
		s.StableReset = 10 * time.Second
	}
	if s.PingEvery == 0 {
		s.PingEvery = 20 * time.Second
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 90 * time.Second
	}
	if s.InitialBackoff == 0 {
		s.InitialBackoff = 200 * time.Millisecond
	}
	if s.MaxBackoff == 0 {
		s.MaxBackoff = 10 * time.Second
	}
}

// Run connects, reads until the connection drops, and reconnects with
// jittered exponential backoff until ctx ends.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.URL == "" {
		return errors.New("client: empty url")
	}
	s.defaults()
	backoff := s.InitialBackoff

	for ctx.Err() == nil {
		// dial timeout：避免网络黑洞卡死
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, _, err := websocket.Dial(dctx, s.URL, nil)
		cancel()
		if err != nil {
			sleep := jitter(backoff)
			logger.Warn(ctx, "dial failed", zap.String("url", s.URL), zap.Duration("retry_in", sleep), zap.Error(err))
			if !sleepCtx(ctx, sleep) {
				return ctx.Err()
			}
			backoff = min(backoff*2, s.MaxBackoff)
			continue
		}

		logger.Info(ctx, "connected", zap.String("url", s.URL))
		start := time.Now()
		err = s.serveConn(ctx, conn)
		_ = conn.CloseNow()

		// 连接稳定才重置 backoff，避免重连风暴
		if time.Since(start) >= s.StableReset {
			backoff = s.InitialBackoff
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn(ctx, "connection ended",
				zap.Error(err),
				zap.Int("close_status", int(websocket.CloseStatus(err))),
			)
			if !sleepCtx(ctx, jitter(backoff)) {
				return ctx.Err()
			}
			backoff = min(backoff*2, s.MaxBackoff)
		}
	}
	return ctx.Err()
}

func (s *Subscriber) serveConn(ctx context.Context, conn *websocket.Conn) error {
	if s.FrequencyMs > 0 {
		msg := []byte(`{"frequency_ms":` + strconv.FormatInt(s.FrequencyMs, 10) + `}`)
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.Write(wctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			rctx, cancel := context.WithTimeout(ctx, s.ReadTimeout)
			_, raw, err := conn.Read(rctx)
			cancel()
			if err != nil {
				errCh <- err
				return
			}
			if s.OnRaw != nil {
				s.OnRaw(raw)
			}
			ev, err := event.Decode(raw)
			if err != nil {
				// unknown types are expected as the server grows new streams
				if !errors.Is(err, event.ErrUnknownType) {
					logger.Debug(ctx, "undecodable frame", zap.Error(err))
				}
				continue
			}
			if s.OnEvent != nil {
				s.OnEvent(ev)
			}
		}
	}()

	ping := time.NewTicker(s.PingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.5 + rand.Float64())) // 0.5x~1.5x
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
