// Package http exposes the supervisor's health and status over HTTP.
package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/datahub/server/api"
	"github.com/compose-network/datahub/x/supervisor"
)

// Status is the read-only view of the supervisor the handlers need.
type Status interface {
	State() supervisor.State
	Stats() supervisor.Stats
	Adapters() []supervisor.AdapterStatus
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

type Handler struct {
	status    Status
	build     BuildInfo
	startedAt time.Time
	now       func() time.Time
	log       zerolog.Logger
}

func NewHandler(status Status, build BuildInfo, log zerolog.Logger) *Handler {
	return &Handler{
		status:    status,
		build:     build,
		startedAt: time.Now(),
		now:       time.Now,
		log:       log.With().Str("component", "hub-http").Logger(),
	}
}

// handleHealth reports that the process is serving.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apicommon.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// handleReady is 200 only while the supervisor is running.
func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := h.status.State()
	code := http.StatusOK
	status := "ready"
	if state != supervisor.StateRunning {
		code = http.StatusServiceUnavailable
		status = "not_ready"
	}

	apicommon.WriteJSON(w, code, map[string]any{
		"status": status,
		"state":  state,
	})
}

type statsResponse struct {
	supervisor.Stats
	Build         BuildInfo `json:"build"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// handleStats returns supervisor statistics and build info.
func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	apicommon.WriteJSON(w, http.StatusOK, statsResponse{
		Stats:         h.status.Stats(),
		Build:         h.build,
		UptimeSeconds: h.now().Sub(h.startedAt).Seconds(),
	})
}

// handleAdapters lists every configured adapter.
func (h *Handler) handleAdapters(w http.ResponseWriter, _ *http.Request) {
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{
		"adapters": h.status.Adapters(),
	})
}

// handleAdapter returns one adapter by name.
func (h *Handler) handleAdapter(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, st := range h.status.Adapters() {
		if st.Name == name {
			apicommon.WriteJSON(w, http.StatusOK, st)
			return
		}
	}

	apicommon.WriteError(
		w, r,
		http.StatusNotFound,
		"adapter_not_found",
		"No adapter with that name is configured",
		map[string]string{"name": name},
	)
}
