package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "route_resolve_seconds",
		Help:    "Time spent resolving a route, grouped by acquisition method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	strategyAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_strategy_attempts_total",
		Help: "Routing provider attempts grouped by strategy and outcome.",
	}, []string{"strategy", "result"})

	snapRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_snap_requests_total",
		Help: "Coordinate snapping requests grouped by outcome.",
	}, []string{"result"})

	fallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_fallback_total",
		Help: "Synthetic fallback routes generated, grouped by reason.",
	}, []string{"reason"})
)
