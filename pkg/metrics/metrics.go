package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "streamex"

var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events published into the hub, by producer and event type.",
	}, []string{"source", "type"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped before reaching the hub.",
	}, []string{"source", "reason"}) // encode / malformed_payload / unknown_type

	UpstreamAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_attempts_total",
		Help:      "Source run attempts, partitioned by how the attempt ended.",
	}, []string{"source", "result"})

	UpstreamState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_state",
		Help:      "Source state: 0 disconnected, 1 connecting, 2 streaming.",
	}, []string{"source"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuitbreaker_state",
		Help:      "Per-source health breaker state (0/1).",
	}, []string{"source", "state"}) // state: closed/open/half_open

	FrequencyMs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "frequency_ms",
		Help:      "Current producer tick interval in milliseconds.",
	})

	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_subscribers",
		Help:      "Open hub cursors.",
	})
	HubPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_published_total",
		Help:      "Payloads written into the hub ring.",
	})
	HubLaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_lagged_skipped_total",
		Help:      "Events skipped by cursors that fell behind the ring.",
	})
)

// ObservePublish counts one published event.
func ObservePublish(source, typ string) {
	EventsPublishedTotal.WithLabelValues(source, typ).Inc()
}

// ObserveDrop counts one dropped event.
func ObserveDrop(source, reason string) {
	EventsDroppedTotal.WithLabelValues(source, reason).Inc()
}

// SetBreakerState flips the one-hot state gauge for source.
func SetBreakerState(source, state string) {
	for _, s := range []string{"closed", "open", "half_open"} {
		v := 0.0
		if s == state {
			v = 1
		}
		BreakerState.WithLabelValues(source, s).Set(v)
	}
}
