package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	PagesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trendcast_pages_fetched_total", Help: "Platform listing pages fetched"},
		[]string{"op"},
	)
	TransportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trendcast_transport_errors_total", Help: "Platform listing/search failures"},
		[]string{"op", "http_status"},
	)
	AudienceResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trendcast_audience_resolutions_total", Help: "Audience resolutions by strategy"},
		[]string{"strategy", "result"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trendcast_sends_total", Help: "Per-recipient send outcomes"},
		[]string{"result"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "trendcast_send_latency_seconds", Help: "Single send latency"},
	)
	MarketRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trendcast_market_requests_total", Help: "Market data API requests"},
		[]string{"op", "result"},
	)
	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trendcast_uploads_total", Help: "Image upload results"},
		[]string{"host", "result"},
	)
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trendcast_runs_total", Help: "Run results"},
		[]string{"mode", "result"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trendcast_http_requests_total", Help: "Status API requests"},
		[]string{"route", "status"},
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trendcast_run_duration_seconds",
			Help:    "Full run duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(PagesFetched, TransportErrors, AudienceResolved, Sends, SendLatency, MarketRequests, Uploads, Runs, RunDuration, HTTPRequests)
}
