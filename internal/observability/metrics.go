package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "group", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "group", "status"},
	)
	decryptAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "decrypt",
			Name:      "candidate_attempts_total",
			Help:      "Candidate keys tried against inbound ciphertext.",
		},
	)
	decryptResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "decrypt",
			Name:      "results_total",
			Help:      "Trial decryption outcomes.",
		},
		[]string{"outcome"},
	)
	outboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "outbound",
			Name:      "events_total",
			Help:      "Outbound queue transitions.",
		},
		[]string{"event"},
	)
	outboundDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "meshbridge",
			Subsystem: "outbound",
			Name:      "depth",
			Help:      "Messages held by the outbound queue.",
		},
		[]string{"state"},
	)
	channelRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "channels",
			Name:      "refreshes_total",
			Help:      "Channel cache refreshes.",
		},
		[]string{"success"},
	)
	channelsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshbridge",
			Subsystem: "channels",
			Name:      "loaded",
			Help:      "Usable channel keys in the current snapshot.",
		},
	)
	inboundPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "bridge",
			Name:      "inbound_packets_total",
			Help:      "Inbound mesh packets by application port.",
		},
		[]string{"port"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			decryptAttempts, decryptResults,
			outboundEvents, outboundDepth,
			channelRefreshes, channelsLoaded,
			inboundPackets,
		)
	})
}

func RecordHTTPRequest(node, method, group string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, group, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, group, statusLabel).Observe(duration.Seconds())
}

// RecordDecrypt records one trial decryption call: how many candidates were
// tried and its outcome label.
func RecordDecrypt(attempted int, outcome string) {
	RegisterMetrics()
	decryptAttempts.Add(float64(attempted))
	decryptResults.WithLabelValues(outcome).Inc()
}

func RecordOutbound(event string) {
	RegisterMetrics()
	outboundEvents.WithLabelValues(event).Inc()
}

func SetOutboundDepth(queued, awaiting int) {
	RegisterMetrics()
	outboundDepth.WithLabelValues("queued").Set(float64(queued))
	outboundDepth.WithLabelValues("awaiting").Set(float64(awaiting))
}

func RecordChannelRefresh(success bool, loaded int) {
	RegisterMetrics()
	channelRefreshes.WithLabelValues(strconv.FormatBool(success)).Inc()
	if success {
		channelsLoaded.Set(float64(loaded))
	}
}

func RecordInboundPacket(port string) {
	RegisterMetrics()
	inboundPackets.WithLabelValues(port).Inc()
}
