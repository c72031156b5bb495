package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/metrics"
)

// UnmatchedRoute labels requests that no route handled.
const UnmatchedRoute = "unmatched"

type accessKey struct{}

// access is shared between Logger and Route for one request.
type access struct {
	route string
}

// statusRecorder captures the status code and body size written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics() *httpMetrics {
	reg := metrics.NewComponentRegistry("http")
	return &httpMetrics{
		requests: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "API requests by route template, method and status code",
		}, []string{"route", "method", "code"}),
		duration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "API request latency by route template",
			Buckets: metrics.DurationBuckets,
		}, []string{"route"}),
	}
}

// Logger writes one access line per request and records request metrics.
// Polled status endpoints succeed at debug level; 4xx logs at warn and 5xx at
// error. Install Route on the router to label requests by path template.
func Logger(log zerolog.Logger) func(next http.Handler) http.Handler {
	m := newHTTPMetrics()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &access{route: UnmatchedRoute}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessKey{}, info)))

			elapsed := time.Since(start)
			m.requests.WithLabelValues(info.route, r.Method, strconv.Itoa(rec.status)).Inc()
			m.duration.WithLabelValues(info.route).Observe(elapsed.Seconds())

			level := zerolog.DebugLevel
			switch {
			case rec.status >= http.StatusInternalServerError:
				level = zerolog.ErrorLevel
			case rec.status >= http.StatusBadRequest:
				level = zerolog.WarnLevel
			}

			requestID, _ := r.Context().Value(RequestIDKey).(string)
			log.WithLevel(level).
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("route", info.route).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", rec.status).
				Int64("bytes", rec.bytes).
				Dur("latency", elapsed).
				Msg("HTTP request")
		})
	}
}

// Route reports the matched path template, such as /adapters/{name}, to
// Logger. It must be installed with Router.Use since only the router knows
// which route matched.
func Route() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info, ok := r.Context().Value(accessKey{}).(*access); ok {
				if route := mux.CurrentRoute(r); route != nil {
					if tpl, err := route.GetPathTemplate(); err == nil {
						info.route = tpl
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
