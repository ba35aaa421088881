package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/danmuck/tendyrelay/internal/relay"
	"github.com/danmuck/tendyrelay/internal/tendies"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tendyrelay"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections.",
		},
	)
	relaySessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Relay sessions by terminal state.",
		},
		[]string{"state"},
	)
	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "session_duration_seconds",
			Help:      "Relay session duration from decode to status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"state"},
	)
	relayFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames accepted by the sink, by kind.",
		},
		[]string{"kind"},
	)
	relayBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes delivered in transfer frames.",
		},
	)
	relayWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "decode_warnings_total",
			Help:      "Non-fatal decode warnings by code.",
		},
		[]string{"code"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			wsConnections,
			relaySessions,
			relayDuration,
			relayFrames,
			relayBytes,
			relayWarnings,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// TrackConnection bumps the open-connection gauge and returns its release.
func TrackConnection() func() {
	RegisterMetrics()
	wsConnections.Inc()
	var once sync.Once
	return func() { once.Do(wsConnections.Dec) }
}

// RelayObserver feeds relay session callbacks into the process collectors.
type RelayObserver struct{}

func NewRelayObserver() RelayObserver {
	RegisterMetrics()
	return RelayObserver{}
}

func (RelayObserver) FrameDelivered(kind wire.Kind, payloadBytes int) {
	relayFrames.WithLabelValues(string(kind)).Inc()
	if payloadBytes > 0 {
		relayBytes.Add(float64(payloadBytes))
	}
}

func (RelayObserver) SessionFinished(r relay.Result) {
	state := string(r.State)
	relaySessions.WithLabelValues(state).Inc()
	relayDuration.WithLabelValues(state).Observe(r.Duration.Seconds())
	for _, w := range r.Warnings {
		relayWarnings.WithLabelValues(warningCode(w)).Inc()
	}
}

func warningCode(w tendies.Warning) string {
	if w == nil {
		return "unknown"
	}
	return w.Code()
}
