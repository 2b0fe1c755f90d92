package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Auth subsystem metrics.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"result"},
	)

	tokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_pairs_issued_total",
		Help: "Access/refresh token pairs minted.",
	})

	otpIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_otp_issued_total",
		Help: "Password reset codes issued.",
	})

	otpConsumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_otp_consumed_total",
		Help: "Password reset codes successfully consumed.",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, tokensIssuedTotal, otpIssuedTotal, otpConsumedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records a login attempt outcome ("ok", "denied", "error").
func ObserveLogin(result string) {
	loginsTotal.WithLabelValues(result).Inc()
}

// ObserveTokenPairIssued counts a freshly minted token pair.
func ObserveTokenPairIssued() {
	tokensIssuedTotal.Inc()
}

// ObserveOTPIssued counts an issued password reset code.
func ObserveOTPIssued() {
	otpIssuedTotal.Inc()
}

// ObserveOTPConsumed counts a consumed password reset code.
func ObserveOTPConsumed() {
	otpConsumedTotal.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
