package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediastream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 45},
	}, []string{"method", "path"})

	BackendPartRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "backend_part_requests_total",
		Help:      "Backend file part requests by outcome.",
	}, []string{"outcome"})

	BackendPartBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "backend_part_bytes_total",
		Help:      "Total bytes received from backend file part requests.",
	})

	BackendPartDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mediastream",
		Name:      "backend_part_duration_seconds",
		Help:      "Duration of single backend file part requests in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	SingleFlightSharedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "singleflight_shared_total",
		Help:      "Calls that joined an in-flight request instead of starting one.",
	}, []string{"kind"})

	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "cache_lookups_total",
		Help:      "Blob cache lookups by bucket and result.",
	}, []string{"bucket", "result"})

	CacheWriteErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "cache_write_errors_total",
		Help:      "Failed background cache writes by bucket.",
	}, []string{"bucket"})

	RouteTimeoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "route_timeouts_total",
		Help:      "Requests answered with 500 because the route deadline passed.",
	}, []string{"route"})

	RouteFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "route_failures_total",
		Help:      "Requests answered with the generic 500 by route.",
	}, []string{"route"})

	SafariProbesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "safari_probes_total",
		Help:      "Two-byte probe ranges answered without a backend call.",
	})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediastream",
		Name:      "active_streams",
		Help:      "Number of live legacy streams.",
	})

	PreloadedPartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediastream",
		Name:      "preloaded_parts_total",
		Help:      "Parts warmed into the chunk cache ahead of playback.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BackendPartRequestsTotal,
		BackendPartBytesTotal,
		BackendPartDuration,
		SingleFlightSharedTotal,
		CacheLookupsTotal,
		CacheWriteErrorsTotal,
		RouteTimeoutsTotal,
		RouteFailuresTotal,
		SafariProbesTotal,
		ActiveStreams,
		PreloadedPartsTotal,
	)
}
