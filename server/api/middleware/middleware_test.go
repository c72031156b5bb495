package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLoggerLabelsRouteTemplate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	r := mux.NewRouter()
	r.Use(Route())
	r.HandleFunc("/adapters/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := RequestID()(Logger(log)(r))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adapters/radio", nil))

	entry := lastLine(t, &buf)
	assert.Equal(t, "/adapters/{name}", entry["route"])
	assert.Equal(t, "/adapters/radio", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, rec.Header().Get(RequestIDHeader), entry["request_id"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	entry = lastLine(t, &buf)
	assert.Equal(t, UnmatchedRoute, entry["route"])
	assert.EqualValues(t, http.StatusNotFound, entry["status"])
}

func TestLoggerSuccessAtDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := Logger(zerolog.New(&buf).Level(zerolog.InfoLevel))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Zero(t, buf.Len())
}

func TestRecoverWritesJSON(t *testing.T) {
	t.Parallel()

	h := RequestID()(Recover(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body.Error.Code)
	assert.Equal(t, "req-1", body.Error.RequestID)
}

func TestRecoverReraisesAbort(t *testing.T) {
	t.Parallel()

	h := Recover(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRequestIDValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		keep bool
	}{
		{"caller id", "abc-123", true},
		{"empty", "", false},
		{"spaces", "a b", false},
		{"too long", strings.Repeat("x", maxRequestIDLen+1), false},
		{"control char", "id\x01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen, _ = r.Context().Value(RequestIDKey).(string)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.in != "" {
				req.Header.Set(RequestIDHeader, tt.in)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if tt.keep {
				assert.Equal(t, tt.in, seen)
			} else {
				assert.NotEqual(t, tt.in, seen)
				assert.NotEmpty(t, seen)
			}
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		})
	}
}
