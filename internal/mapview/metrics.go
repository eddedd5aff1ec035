package mapview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routeResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_route_resolutions_total",
		Help: "Route resolutions applied to the view grouped by status.",
	}, []string{"status"})

	staleRoutes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapview_stale_routes_total",
		Help: "Route results discarded because a newer resolution superseded them.",
	})

	inboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapview_inbox_depth",
		Help: "Events waiting in the controller queue.",
	})
)
