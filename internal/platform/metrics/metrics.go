package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinical-consent/internal/domain/consent"
)

const namespace = "consent"

// Metrics agrupa los collectors en un registry propio (tests aislados, sin
// pisar el default global).
type Metrics struct {
	reg *prometheus.Registry

	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	accessChecks    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	sweepRuns       *prometheus.CounterVec
	sweepExpired    prometheus.Counter
	rateLimitedReqs *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		accessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_checks_total",
			Help:      "Access decisions by requested permission and outcome.",
		}, []string{"permission", "outcome", "reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Grant state changes by audit action.",
		}, []string{"action"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Expiry sweeper passes by result.",
		}, []string{"result"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_expired_total",
			Help:      "Grants transitioned to expired by the sweeper.",
		}),
		rateLimitedReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.accessChecks, m.transitions, m.sweepRuns, m.sweepExpired, m.rateLimitedReqs,
	)
	return m
}

// Registry expone el registry (tests con testutil).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Instrument mide RPS/latencia/en vuelo. La ruta se etiqueta con el patrón de
// chi (no el path crudo) para acotar cardinalidad.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		m.httpDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, status).Inc()
	})
}

var _ consent.Observer = (*Metrics)(nil)

func (m *Metrics) AccessChecked(perm consent.Permission, d consent.Decision) {
	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	m.accessChecks.WithLabelValues(string(perm), outcome, string(d.Reason)).Inc()
}

func (m *Metrics) Transitioned(action consent.AuditAction) {
	m.transitions.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) Swept(expired int, err error) {
	if err != nil {
		m.sweepRuns.WithLabelValues("error").Inc()
	} else {
		m.sweepRuns.WithLabelValues("ok").Inc()
	}
	if expired > 0 {
		m.sweepExpired.Add(float64(expired))
	}
}

func (m *Metrics) RateLimited(scope string) {
	m.rateLimitedReqs.WithLabelValues(scope).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
