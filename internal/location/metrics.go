package location

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fixesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "location_fixes_emitted_total",
		Help: "Location fixes emitted to consumers, grouped by accuracy class.",
	}, []string{"quality"})

	acquisitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "location_acquisition_failures_total",
		Help: "Failed one-shot fix acquisitions grouped by reason.",
	}, []string{"reason"})

	deviceMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "location_device_messages_total",
		Help: "Messages received from the device bridge stream.",
	})
)
