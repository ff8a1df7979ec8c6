// Package callmetrics tracks outbound platform-call activity: attempts,
// outcomes, retries, throttle events, and queue depth. Metrics are exported
// through the default prometheus registry and served at /metrics.
package callmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamframe_transport_calls_total",
		Help: "Completed transport calls by operation and outcome.",
	}, []string{"op", "outcome"})

	callLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamframe_transport_call_seconds",
		Help:    "Transport call latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamframe_transport_retries_total",
		Help: "Retried transport calls by operation and error kind.",
	}, []string{"op", "kind"})

	throttleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamframe_throttle_events_total",
		Help: "Rate-limit responses observed from the platform.",
	})

	exhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamframe_destinations_exhausted_total",
		Help: "Destinations that permanently failed after max attempts.",
	})

	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamframe_operations_coalesced_total",
		Help: "Enqueued operations absorbed by a newer operation before being sent.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamframe_queue_depth",
		Help: "Destinations with a pending operation.",
	})
)

// RecordCall records one completed transport call.
func RecordCall(op, outcome string, latency time.Duration) {
	callsTotal.WithLabelValues(op, outcome).Inc()
	if latency > 0 {
		callLatency.WithLabelValues(op).Observe(latency.Seconds())
	}
}

// RecordRetry records a failed call that will be retried.
func RecordRetry(op, kind string) {
	retriesTotal.WithLabelValues(op, kind).Inc()
}

// RecordThrottle records a rate-limit response.
func RecordThrottle() {
	throttleTotal.Inc()
}

// RecordExhausted records a destination giving up after max attempts.
func RecordExhausted() {
	exhaustedTotal.Inc()
}

// RecordCoalesced records a pending operation replaced before being sent.
func RecordCoalesced() {
	coalescedTotal.Inc()
}

// SetQueueDepth reports the current number of pending destinations.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}
