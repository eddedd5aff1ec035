package geocode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_requests_total",
		Help: "Upstream geocoding requests grouped by result.",
	}, []string{"result"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_cache_lookups_total",
		Help: "Geocode cache lookups grouped by result.",
	}, []string{"result"})
)
