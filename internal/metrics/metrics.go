package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "docsync"

var (
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of upload attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	UploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total bytes successfully transferred to the upload endpoint.",
		},
	)

	ValidationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Files rejected before any network activity, labeled by reason.",
		},
		[]string{"reason"},
	)

	ChannelReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_reconnects_total",
			Help:      "Total number of channel reconnect attempts.",
		},
	)

	ChannelState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_state",
			Help:      "Current channel state (0 closed, 1 connecting, 2 open, 3 reconnecting, 4 disconnected).",
		},
	)

	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total decoded channel events, labeled by type.",
		},
		[]string{"type"},
	)

	EventDecodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_decode_failures_total",
			Help:      "Total inbound frames dropped because they failed to decode.",
		},
	)

	StatusPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Total status endpoint polls, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	CacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total cache invalidation requests, labeled by resource kind.",
		},
		[]string{"resource"},
	)
)

func init() {
	prometheus.MustRegister(
		UploadsTotal,
		UploadBytesTotal,
		ValidationRejectionsTotal,
		ChannelReconnectsTotal,
		ChannelState,
		EventsReceivedTotal,
		EventDecodeFailuresTotal,
		StatusPollsTotal,
		CacheInvalidationsTotal,
	)
}
