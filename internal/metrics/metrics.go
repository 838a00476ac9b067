// Package metrics exposes the service counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shortlink"

type Metrics struct {
	urlsShortened   prometheus.Counter
	redirects       *prometheus.CounterVec
	admissions      *prometheus.CounterVec
	failures        prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// New registers the service metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		urlsShortened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "urls_shortened_total",
			Help:      "Number of shorten requests that returned a short code.",
		}),
		redirects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Number of redirect lookups by result.",
		}, []string{"result"}), // hit, miss
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Number of rate limiter decisions.",
		}, []string{"decision"}), // admitted, denied
		failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_failures_total",
			Help:      "Number of API responses counted as client failures.",
		}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
	}
}

// RegisterGauges exposes the current number of stored URLs and of clients
// tracked by the security guard.
func RegisterGauges(reg prometheus.Registerer, storedURLs, trackedClients func() int) {
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stored_urls",
		Help:      "Number of stored short URLs.",
	}, func() float64 { return float64(storedURLs()) })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_clients",
		Help:      "Number of client IPs the security guard holds state for.",
	}, func() float64 { return float64(trackedClients()) })
}

func (m *Metrics) URLShortened() {
	m.urlsShortened.Inc()
}

func (m *Metrics) Redirect(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.redirects.WithLabelValues(result).Inc()
}

func (m *Metrics) Admission(admitted bool) {
	decision := "denied"
	if admitted {
		decision = "admitted"
	}
	m.admissions.WithLabelValues(decision).Inc()
}

func (m *Metrics) Failure() {
	m.failures.Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
