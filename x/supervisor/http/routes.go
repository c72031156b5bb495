package http

const (
	routeHealth   = "/health"
	routeReady    = "/ready"
	routeStats    = "/stats"
	routeAdapters = "/adapters"
	routeAdapter  = "/adapters/{name}"

	routeNameHealth   = "hub-health"
	routeNameReady    = "hub-ready"
	routeNameStats    = "hub-stats"
	routeNameAdapters = "hub-adapters"
	routeNameAdapter  = "hub-adapter"
)
