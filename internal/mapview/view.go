package mapview

import (
	"errors"
	"time"

	"github.com/ikramby/carburon/internal/geo"
	"github.com/ikramby/carburon/internal/location"
	"github.com/ikramby/carburon/internal/realtime"
	"github.com/ikramby/carburon/internal/ride"
	"github.com/ikramby/carburon/internal/routing"
)

// RoutingStatus is the single routing indicator shown to the rider.
type RoutingStatus string

const (
	StatusLoading     RoutingStatus = "loading"
	StatusError       RoutingStatus = "error"
	StatusApproximate RoutingStatus = "approximate"
	StatusOptimized   RoutingStatus = "optimized"
	StatusNone        RoutingStatus = "none"
)

// statusOf derives the indicator from the current path alone.
func statusOf(loading bool, hasDestination bool, path routing.Path) RoutingStatus {
	switch {
	case loading:
		return StatusLoading
	case !hasDestination || path.Method == routing.MethodNone || len(path.Points) == 0:
		return StatusNone
	case errors.Is(path.Err, routing.ErrOutOfRegion):
		return StatusError
	case path.Err != nil || path.Approximate():
		return StatusApproximate
	default:
		return StatusOptimized
	}
}

// RouteView is the rendered route.
type RouteView struct {
	Points []geo.Point    `json:"points"`
	Method routing.Method `json:"method"`
	Steps  []routing.Step `json:"steps,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// DriverView is a nearby driver annotated relative to the rider.
type DriverView struct {
	realtime.Driver
	DistanceKm *float64 `json:"distance_km,omitempty"`
	EtaMinutes *int     `json:"eta_minutes,omitempty"`
}

// RideView projects the ride state machine.
type RideView struct {
	Phase    ride.Phase `json:"phase"`
	DriverID string     `json:"driver_id,omitempty"`
}

// Snapshot is an immutable copy of everything the UI renders.
type Snapshot struct {
	Region        Region           `json:"region"`
	ManualZoom    bool             `json:"manual_zoom"`
	Fix           *location.Fix    `json:"fix,omitempty"`
	Quality       location.Quality `json:"quality"`
	LocationError string           `json:"location_error,omitempty"`
	Destination   *geo.Point       `json:"destination,omitempty"`
	Route         RouteView        `json:"route"`
	Status        RoutingStatus    `json:"status"`
	Drivers       []DriverView     `json:"drivers"`
	Ride          RideView         `json:"ride"`
	Connection    realtime.State   `json:"connection"`
	Offline       bool             `json:"offline"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Fix != nil {
		fix := *s.Fix
		out.Fix = &fix
	}
	if s.Destination != nil {
		dest := *s.Destination
		out.Destination = &dest
	}
	out.Route.Points = make([]geo.Point, len(s.Route.Points))
	copy(out.Route.Points, s.Route.Points)
	out.Route.Steps = append([]routing.Step(nil), s.Route.Steps...)
	out.Drivers = make([]DriverView, len(s.Drivers))
	copy(out.Drivers, s.Drivers)
	return out
}

func annotate(drivers []realtime.Driver, fix *location.Fix, speedKmh float64) []DriverView {
	out := make([]DriverView, 0, len(drivers))
	for _, d := range drivers {
		view := DriverView{Driver: d}
		if fix != nil {
			dist := geo.DistanceKm(fix.Point, d.Point)
			eta := geo.EtaMinutes(dist, speedKmh)
			view.DistanceKm = &dist
			view.EtaMinutes = &eta
		}
		out = append(out, view)
	}
	return out
}
