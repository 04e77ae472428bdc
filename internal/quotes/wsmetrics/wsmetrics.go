package wsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "streamex"
	subsystem = "ws"
)

var (
	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "sessions",
		Help: "Active subscriber sessions",
	})
	SessionOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "session_open_total",
		Help: "Total subscriber sessions opened",
	})
	SessionCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "session_close_total",
		Help: "Total subscriber sessions closed, partitioned by reason",
	}, []string{"reason"})

	FramesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "frames_out_total",
		Help: "Total event frames written to subscribers",
	})
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "bytes_out_total",
		Help: "Total bytes written to subscribers",
	})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "write_errors_total",
		Help: "Total subscriber write errors",
	})
	LaggedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "lagged_events_total",
		Help: "Events skipped by sessions that fell behind the hub",
	})

	ControlTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "control_frames_total",
		Help: "Inbound control frames, partitioned by result",
	}, []string{"result"}) // applied/ignored/throttled/coalesced

	PingSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "ping_sent_total",
		Help: "Total pings sent",
	})
	PingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "ping_errors_total",
		Help: "Total ping send errors",
	})
	PongRecvTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "pong_recv_total",
		Help: "Total pongs received",
	})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "write_duration_seconds",
		Help:    "Duration of a single frame write",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
)

func OnOpen() {
	Sessions.Inc()
	SessionOpenTotal.Inc()
}

func OnClose(reason string) {
	Sessions.Dec()
	SessionCloseTotal.WithLabelValues(reason).Inc()
}

func ObserveWrite(bytes int, dur time.Duration, err error) {
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrorsTotal.Inc()
		return
	}
	FramesOutTotal.Inc()
	BytesOutTotal.Add(float64(bytes))
}

func ObserveLag(skipped uint64) {
	LaggedEventsTotal.Add(float64(skipped))
}
