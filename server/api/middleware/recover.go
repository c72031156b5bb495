package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/metrics"
)

// Recover turns a handler panic into a JSON 500 carrying the request id and
// logs the stack trace. http.ErrAbortHandler is re-raised so net/http can
// abort the connection as intended.
func Recover(log zerolog.Logger) func(next http.Handler) http.Handler {
	panics := metrics.NewComponentRegistry("http").NewCounter(prometheus.CounterOpts{
		Name: "panics_total",
		Help: "Handler panics recovered by the API server",
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				panics.Inc()
				requestID, _ := r.Context().Value(RequestIDKey).(string)
				log.Error().
					Interface("panic", rec).
					Str("request_id", requestID).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("HTTP handler panicked")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{
						"code":       "internal_error",
						"message":    "internal server error",
						"request_id": requestID,
						"timestamp":  time.Now().UTC().Format(time.RFC3339),
					},
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
