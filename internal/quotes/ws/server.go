package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/hub"
	"streamex.com/internal/quotes/wsmetrics"
	"streamex.com/pkg/logger"
	"streamex.com/pkg/ratelimit"
	"streamex.com/pkg/safe"
)

type Server struct {
	Hub      *hub.Hub
	Freq     *freq.Control
	Upgrader websocket.Upgrader
	// Limits 按 session 限制 control 帧频率；nil 表示不限
	Limits *ratelimit.Store

	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
	ReadLimit  int64

	ctx   context.Context
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewServer serves sessions until ctx ends; every open session is closed then.
func NewServer(ctx context.Context, h *hub.Hub, f *freq.Control) *Server {
	return &Server{
		Hub:  h,
		Freq: f,
		ctx:  ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // browsers connect from the dashboard origin
		},
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		WriteWait:  5 * time.Second,
		ReadLimit:  4 << 10,
		conns:      make(map[*Conn]struct{}),
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		return
	}

	id := uuid.NewString()
	base := logger.WithSession(s.ctx, id)
	// keep the upgrade request's trace id on session logs
	if rid, ok := r.Context().Value(logger.TraceIdKey).(string); ok {
		base = context.WithValue(base, logger.TraceIdKey, rid)
	}
	ctx, cancel := context.WithCancel(base)
	c := &Conn{
		id:     id,
		ws:     wsConn,
		cur:    s.Hub.Subscribe(),
		srv:    s,
		ctx:    ctx,
		cancel: cancel,
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	wsmetrics.OnOpen()
	logger.Info(ctx, "session opened", zap.String("remote", r.RemoteAddr))

	for _, pump := range []func(*Conn){s.writePump, s.readPump, s.keepAlive} {
		safe.GoCtx(ctx, func(context.Context) { s.guard(c, pump) })
	}
}

// Sessions is the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) forget(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
