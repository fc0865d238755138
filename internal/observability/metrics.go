package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons recorded by RecordDrop.
const (
	DropMalformed     = "malformed"
	DropIdentity      = "identity_mismatch"
	DropDeserialize   = "deserialize"
	DropQueueFull     = "queue_full"
	DropPeerTableFull = "peer_table_full"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowlink",
			Subsystem: "link",
			Name:      "frames_sent_total",
			Help:      "Frames broadcast by this node.",
		},
		[]string{"node", "type", "success"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowlink",
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Frames accepted onto the inbound queue.",
		},
		[]string{"node", "type"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowlink",
			Subsystem: "link",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded before reaching the control loop.",
		},
		[]string{"node", "reason"},
	)
	peersKnown = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "glowlink",
			Subsystem: "peers",
			Name:      "known",
			Help:      "Peers currently in the directory.",
		},
		[]string{"node"},
	)
	peerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowlink",
			Subsystem: "peers",
			Name:      "events_total",
			Help:      "Peer joins and evictions.",
		},
		[]string{"node", "event"},
	)
	syncEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowlink",
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Synchronizer outcomes by kind.",
		},
		[]string{"node", "kind"},
	)
	loopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glowlink",
			Subsystem: "loop",
			Name:      "iteration_duration_seconds",
			Help:      "Control loop iteration duration in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .02, .05},
		},
		[]string{"node"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glowlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesSent, framesReceived, framesDropped,
			peersKnown, peerEvents, syncEvents,
			loopDuration, httpRequests, httpDuration,
		)
	})
}

func RecordSend(node, msgType string, success bool) {
	RegisterMetrics()
	framesSent.WithLabelValues(node, msgType, strconv.FormatBool(success)).Inc()
}

func RecordReceive(node, msgType string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(node, msgType).Inc()
}

func RecordDrop(node, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(node, reason).Inc()
}

func SetPeers(node string, n int) {
	RegisterMetrics()
	peersKnown.WithLabelValues(node).Set(float64(n))
}

func RecordPeerEvent(node, event string) {
	RegisterMetrics()
	peerEvents.WithLabelValues(node, event).Inc()
}

func RecordSync(node, kind string) {
	RegisterMetrics()
	syncEvents.WithLabelValues(node, kind).Inc()
}

func ObserveLoop(node string, d time.Duration) {
	RegisterMetrics()
	loopDuration.WithLabelValues(node).Observe(d.Seconds())
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
