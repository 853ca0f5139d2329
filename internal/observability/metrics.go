package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "serialrelay"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Received lines by outcome.",
		},
		[]string{"link", "result"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from the link.",
		},
		[]string{"link"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Framed bytes produced for the link.",
		},
		[]string{"link"},
	)
	bufferOverflows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_overflows_total",
			Help:      "Receive buffer resets caused by missing newlines.",
		},
		[]string{"link"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Application messages by direction.",
		},
		[]string{"link", "direction"},
	)
	timeSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_sync_total",
			Help:      "Time sync lines sent by kind.",
		},
		[]string{"link", "kind"},
	)
	sinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Failed message publishes by sink.",
		},
		[]string{"sink"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			linesTotal, bytesReceived, bytesSent, bufferOverflows,
			messagesTotal, timeSyncTotal, sinkFailures,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSinkFailure(sink string) {
	RegisterMetrics()
	sinkFailures.WithLabelValues(sink).Inc()
}

// LinkMetrics feeds session activity for one link into the registry.
type LinkMetrics struct {
	link string
}

var _ session.Observer = (*LinkMetrics)(nil)

func NewLinkMetrics(link string) *LinkMetrics {
	RegisterMetrics()
	return &LinkMetrics{link: link}
}

func (m *LinkMetrics) Line(result session.LineResult) {
	linesTotal.WithLabelValues(m.link, string(result)).Inc()
}

func (m *LinkMetrics) Bytes(dir session.Direction, n int) {
	if n <= 0 {
		return
	}
	if dir == session.Inbound {
		bytesReceived.WithLabelValues(m.link).Add(float64(n))
		return
	}
	bytesSent.WithLabelValues(m.link).Add(float64(n))
}

func (m *LinkMetrics) Overflow() {
	bufferOverflows.WithLabelValues(m.link).Inc()
}

func (m *LinkMetrics) Message(dir session.Direction) {
	messagesTotal.WithLabelValues(m.link, string(dir)).Inc()
}

func (m *LinkMetrics) TimeSync(kind string) {
	timeSyncTotal.WithLabelValues(m.link, kind).Inc()
}
