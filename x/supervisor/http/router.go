package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router) {
	r.HandleFunc(routeHealth, h.handleHealth).
		Methods(http.MethodGet).
		Name(routeNameHealth)

	r.HandleFunc(routeReady, h.handleReady).
		Methods(http.MethodGet).
		Name(routeNameReady)

	r.HandleFunc(routeStats, h.handleStats).
		Methods(http.MethodGet).
		Name(routeNameStats)

	r.HandleFunc(routeAdapters, h.handleAdapters).
		Methods(http.MethodGet).
		Name(routeNameAdapters)

	r.HandleFunc(routeAdapter, h.handleAdapter).
		Methods(http.MethodGet).
		Name(routeNameAdapter)
}
