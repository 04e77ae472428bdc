package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"streamex.com/internal/quotes/datasource/binance"
	"streamex.com/internal/quotes/datasource/bus"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/hub"
	"streamex.com/internal/quotes/mdsource"
	"streamex.com/internal/quotes/simulate"
	"streamex.com/internal/quotes/ws"
	"streamex.com/pkg/logger"
	"streamex.com/pkg/ratelimit"
	"streamex.com/pkg/xerr"
)

type App struct {
	cfg  Config
	hub  *hub.Hub
	freq *freq.Control

	sources []mdsource.Source
	runner  *mdsource.Runner
	broker  bus.Broker
	ws      *ws.Server

	ready chan struct{}
	mu    sync.Mutex
	addr  net.Addr
	// 每个源最近一次失败，/healthz 展示
	lastErr map[string]string
}

// New builds the producers and the hub; nothing runs until Run.
func New(cfg Config) (*App, error) {
	a := &App{
		cfg:   cfg,
		hub:   hub.New(cfg.Hub.Capacity),
		freq:  freq.New(cfg.Frequency.InitialMs),
		ready: make(chan struct{}),

		lastErr: make(map[string]string),
	}

	if cfg.LiveData {
		a.sources = a.liveSources()
	} else {
		a.sources = simulate.All(a.freq)
	}

	if cfg.Bus.Enabled {
		b, err := bus.NewNatsBroker(cfg.Bus.URL)
		if err != nil {
			return nil, xerr.Wrap(err, xerr.UpstreamUnavailable, "connect bus "+cfg.Bus.URL)
		}
		a.broker = b
		a.sources = append(a.sources, bus.NewSource(b, cfg.Bus.Topics))
	}
	return a, nil
}

// liveSources: one ticker connection per symbol, one combined trade
// connection, and the simulated system metrics which have no upstream.
func (a *App) liveSources() []mdsource.Source {
	conn := binance.DefaultConn()
	bc := a.cfg.Binance
	if bc.BaseURL != "" {
		conn.BaseURL = bc.BaseURL
	}
	if bc.PingPeriod > 0 {
		conn.PingPeriod = bc.PingPeriod
	}
	if bc.PongWait > 0 {
		conn.PongWait = bc.PongWait
	}
	if bc.DialTimeout > 0 {
		conn.DialTimeout = bc.DialTimeout
	}

	out := make([]mdsource.Source, 0, len(bc.Symbols)+2)
	for _, sym := range bc.Symbols {
		out = append(out, binance.NewTickerSource(conn, sym))
	}
	if len(bc.Symbols) > 0 {
		out = append(out, binance.NewTradeSource(conn, bc.Symbols))
	}
	return append(out, simulate.NewSystem(a.freq))
}

func (a *App) Mode() string {
	if a.cfg.LiveData {
		return "live"
	}
	return "simulated"
}

// Ready is closed once the listener is bound.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr is the bound listen address, nil before Ready.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run serves until ctx ends. Only a failure to bind the listener is returned
// as an error; producer and session failures are recovered internally.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return xerr.Wrap(err, xerr.ServerCommonError, "listen "+a.cfg.HTTP.Addr)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	a.ws = a.newWSServer(gctx)
	a.runner = mdsource.NewRunner(a.hub, a.sources...)
	if a.cfg.Binance.ReconnectDelay > 0 {
		a.runner.ReconnectDelay = a.cfg.Binance.ReconnectDelay
	}
	if a.cfg.LiveData {
		a.runner.Stagger = a.cfg.Binance.Stagger
	}
	a.runner.Run(gctx)

	srv := &http.Server{
		Handler:           a.router(gctx),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	close(a.ready)
	logger.Info(ctx, "stream server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("mode", a.Mode()),
		zap.Int("sources", len(a.sources)),
	)

	g.Go(func() error {
		a.drainSourceErrors(gctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "http shutdown", zap.Error(err))
		}
		a.runner.Wait()
		a.hub.Close()
		if a.broker != nil {
			_ = a.broker.Close()
		}
		return nil
	})

	err = g.Wait()
	logger.Info(ctx, "stream server stopped")
	return err
}

// drainSourceErrors keeps the latest failure per source until ctx ends.
func (a *App) drainSourceErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-a.runner.Err:
			var se *mdsource.SourceError
			if !errors.As(err, &se) {
				logger.Warn(ctx, "source error", zap.Error(err))
				continue
			}
			a.mu.Lock()
			a.lastErr[se.Source] = se.Err.Error()
			a.mu.Unlock()
			logger.Debug(ctx, "source error recorded", zap.String("source", se.Source), zap.Error(se.Err))
		}
	}
}

// SourceErrors is a copy of the latest failure per source.
func (a *App) SourceErrors() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.lastErr))
	for k, v := range a.lastErr {
		out[k] = v
	}
	return out
}

func (a *App) newWSServer(ctx context.Context) *ws.Server {
	s := ws.NewServer(ctx, a.hub, a.freq)
	sc := a.cfg.Session
	if sc.PongWait > 0 {
		s.PongWait = sc.PongWait
	}
	if sc.PingPeriod > 0 {
		s.PingPeriod = sc.PingPeriod
	}
	if sc.WriteWait > 0 {
		s.WriteWait = sc.WriteWait
	}
	if sc.ReadLimit > 0 {
		s.ReadLimit = sc.ReadLimit
	}
	if sc.ControlRate > 0 {
		s.Limits = ratelimit.NewStore(rate.Limit(sc.ControlRate), sc.ControlBurst, 10*time.Minute)
		s.Limits.StartJanitor(ctx, time.Minute)
	}
	return s
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return 5 * time.Second
}

// OnConfigChange applies the settings that can change without a restart.
func (a *App) OnConfigChange(v *viper.Viper) {
	lvl := v.GetString("log.level")
	logger.SetLevel(lvl)
	logger.Info(context.Background(), "log level changed", zap.String("level", logger.Level()))
}
