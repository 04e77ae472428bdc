package ws

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"streamex.com/internal/quotes/hub"
	"streamex.com/internal/quotes/wsmetrics"
	"streamex.com/pkg/logger"
	"streamex.com/pkg/safe"
	"streamex.com/pkg/xerr"
)

// Conn is one subscriber session: a socket bound to exactly one hub cursor.
// It ends when either pump fails; the other pump is torn down with it.
type Conn struct {
	id  string
	ws  *websocket.Conn
	cur *hub.Cursor
	srv *Server

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// 被限流的 control 帧只保留最新值，令牌到期后写入
	pendMu  sync.Mutex
	pending int64
	timer   *time.Timer
}

func (c *Conn) ID() string { return c.id }

// close 只执行一次：释放 cursor、socket、限流状态
func (c *Conn) close(reason string) {
	c.once.Do(func() {
		c.cancel()
		c.pendMu.Lock()
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.pendMu.Unlock()
		_ = c.ws.Close()
		c.cur.Close()
		if c.srv.Limits != nil {
			c.srv.Limits.Forget(c.id)
		}
		c.srv.forget(c)
		wsmetrics.OnClose(reason)
		logger.Info(c.ctx, "session closed", zap.String("reason", reason))
	})
}

// writePump forwards hub events verbatim. A lagged cursor resumes from the
// oldest retained event; a failed write ends the session.
func (s *Server) writePump(c *Conn) {
	for {
		payload, err := c.cur.Recv(c.ctx)
		if err != nil {
			var lag *hub.LagError
			switch {
			case errors.As(err, &lag):
				wsmetrics.ObserveLag(lag.Skipped)
				logger.Debug(c.ctx, "session lagged", zap.Uint64("skipped", lag.Skipped))
				continue
			case errors.Is(err, hub.ErrClosed):
				c.close("hub_closed")
			default:
				c.close("shutdown")
			}
			return
		}

		start := time.Now()
		_ = c.ws.SetWriteDeadline(start.Add(s.WriteWait))
		err = c.ws.WriteMessage(websocket.TextMessage, payload)
		wsmetrics.ObserveWrite(len(payload), time.Since(start), err)
		if err != nil {
			logger.Debug(c.ctx, "session write failed", zap.Error(xerr.Wrap(err, xerr.TransportClosed, "write frame")))
			c.close("write_error")
			return
		}
	}
}

// readPump parses control frames until the socket fails.
func (s *Server) readPump(c *Conn) {
	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		wsmetrics.PongRecvTotal.Inc()
		return c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		mt, b, err := c.ws.ReadMessage()
		if err != nil {
			c.close(readCloseReason(err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
		if mt != websocket.TextMessage {
			wsmetrics.ControlTotal.WithLabelValues("ignored").Inc()
			continue
		}
		s.handleControl(c, b)
	}
}

func (s *Server) handleControl(c *Conn, b []byte) {
	var msg ControlMsg
	// keys match exactly: {"FREQUENCY_MS":300} is not a control frame
	rest, err := json.Parse(b, &msg, json.DontMatchCaseInsensitiveStructFields)
	switch {
	case err != nil:
	case len(rest) != 0:
		err = xerr.New(xerr.MalformedControl, "trailing data after control frame")
	case msg.FrequencyMs == nil:
		err = xerr.New(xerr.MalformedControl, "missing frequency_ms")
	}
	if err != nil {
		wsmetrics.ControlTotal.WithLabelValues("ignored").Inc()
		logger.Debug(c.ctx, "control frame ignored", zap.Error(xerr.Wrap(err, xerr.MalformedControl, "control frame")))
		return
	}

	v := *msg.FrequencyMs
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	if s.Limits == nil {
		s.applyFrequency(c, v)
		return
	}
	if c.timer != nil {
		// a deferred write is already scheduled; it will carry this value
		c.pending = v
		wsmetrics.ControlTotal.WithLabelValues("coalesced").Inc()
		return
	}
	d := s.Limits.Reserve(c.id)
	switch {
	case d == 0:
		s.applyFrequency(c, v)
	case d < 0:
		wsmetrics.ControlTotal.WithLabelValues("throttled").Inc()
	default:
		c.pending = v
		c.timer = time.AfterFunc(d, func() { s.guard(c, s.flushPending) })
		wsmetrics.ControlTotal.WithLabelValues("throttled").Inc()
	}
}

// flushPending writes the newest throttled value once its token is due.
func (s *Server) flushPending(c *Conn) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	if c.timer == nil || c.ctx.Err() != nil {
		return
	}
	c.timer = nil
	s.applyFrequency(c, c.pending)
}

// applyFrequency runs under c.pendMu so a deferred write never lands after a newer one.
func (s *Server) applyFrequency(c *Conn, v int64) {
	applied := s.Freq.Write(v)
	wsmetrics.ControlTotal.WithLabelValues("applied").Inc()
	logger.Info(c.ctx, "frequency changed",
		zap.Int64("requested_ms", v),
		zap.Int64("applied_ms", applied),
	)
}

// guard runs one session task; a panic ends that session only.
func (s *Server) guard(c *Conn, task func(*Conn)) {
	err := safe.Call(func() error {
		task(c)
		return nil
	})
	var pe *safe.PanicError
	if errors.As(err, &pe) {
		logger.Error(c.ctx, "session task panicked", zap.Any("panic", pe.Value), zap.String("stack", pe.Stack))
		c.close("panic")
	}
}

// keepAlive pings every PingPeriod; WriteControl may run alongside WriteMessage.
func (s *Server) keepAlive(c *Conn) {
	ticker := time.NewTicker(s.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.WriteWait)); err != nil {
				wsmetrics.PingErrorsTotal.Inc()
				c.close("ping_error")
				return
			}
			wsmetrics.PingSentTotal.Inc()
		}
	}
}

func readCloseReason(err error) string {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "client_closed"
	case errors.As(err, &ne) && ne.Timeout():
		return "pong_timeout"
	case errors.Is(err, websocket.ErrReadLimit):
		return "read_limit"
	default:
		return "read_error"
	}
}
