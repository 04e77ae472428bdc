package app

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"golang.org/x/time/rate"
	"streamex.com/internal/quotes/freq"
	"streamex.com/internal/quotes/ws"
	"streamex.com/pkg/common"
	"streamex.com/pkg/middleware"
	"streamex.com/pkg/ratelimit"
)

// HealthDTO is the body of GET /healthz.
type HealthDTO struct {
	Status      string            `json:"status"`
	Mode        string            `json:"mode"`
	Subscribers int               `json:"subscribers"`
	Capacity    int               `json:"capacity"`
	FrequencyMs int64             `json:"frequency_ms"`
	Sources     map[string]string `json:"sources"`
	// LastErrors 每个源最近一次断线原因
	LastErrors map[string]string `json:"last_errors,omitempty"`
}

func (a *App) router(ctx context.Context) *gin.Engine {
	r := gin.New()
	// 监控: /metrics + http 请求指标
	p := ginprom.NewPrometheus("streamex_http")
	p.Use(r)
	r.Use(
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	)

	r.GET("/ws", gin.WrapF(a.ws.ServeWS))
	r.GET("/healthz", a.health)

	// 限流只挂在 api 上，ws 升级走 session 自己的 control 限流
	store := ratelimit.NewStore(rate.Limit(a.cfg.HTTP.APIRate), a.cfg.HTTP.APIBurst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)
	api := r.Group("/api/v1", middleware.RateLimit(store))
	api.GET("/frequency", a.frequency)

	if a.cfg.HTTP.Pprof {
		dbg := r.Group("/debug/pprof")
		dbg.GET("/", gin.WrapF(pprof.Index))
		dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(pprof.Profile))
		dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/trace", gin.WrapF(pprof.Trace))
		dbg.GET("/:name", func(c *gin.Context) {
			pprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request)
		})
	}
	return r
}

func (a *App) health(c *gin.Context) {
	states := make(map[string]string, len(a.sources))
	for _, s := range a.sources {
		states[s.Name()] = a.runner.State(s.Name()).String()
	}
	c.JSON(http.StatusOK, HealthDTO{
		Status:      "ok",
		Mode:        a.Mode(),
		Subscribers: a.ws.Sessions(),
		Capacity:    a.hub.Capacity(),
		FrequencyMs: a.freq.Read(),
		Sources:     states,
		LastErrors:  a.SourceErrors(),
	})
}

func (a *App) frequency(c *gin.Context) {
	common.Success(c, ws.FrequencyDTO{
		FrequencyMs: a.freq.Read(),
		MinMs:       freq.MinMs,
		MaxMs:       freq.MaxMs,
	})
}
