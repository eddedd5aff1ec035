package mapview

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
	"github.com/ikramby/carburon/internal/location"
	"github.com/ikramby/carburon/internal/realtime"
	"github.com/ikramby/carburon/internal/ride"
	"github.com/ikramby/carburon/internal/routing"
)

// Event is anything posted to the controller queue.
type Event interface {
	apply(ctx context.Context, c *Controller)
}

// FixReceived carries a new rider position.
type FixReceived struct{ Fix location.Fix }

// LocationFailed surfaces a blocking location error.
type LocationFailed struct{ Err error }

// DestinationSelected sets the ride destination.
type DestinationSelected struct{ Point geo.Point }

type DestinationCleared struct{}

type ZoomIn struct{}

type ZoomOut struct{}

type routeResolved struct {
	gen  uint64
	path routing.Path
}

type realtimeEvent struct{ evt realtime.Event }

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

func (e FixReceived) apply(ctx context.Context, c *Controller) {
	fix := e.Fix
	c.view.Fix = &fix
	c.view.Quality = fix.Quality()
	c.view.LocationError = ""
	c.view.ManualZoom = false
	if c.view.Destination != nil {
		c.view.Region = CoveringRegion(fix.Point, *c.view.Destination)
	} else {
		c.view.Region = TightRegion(fix.Point)
	}
	c.view.Drivers = annotate(c.drivers, c.view.Fix, c.cfg.AverageSpeedKmh)

	if c.view.Destination == nil {
		return
	}
	if c.routeOrigin == nil || geo.DistanceMeters(*c.routeOrigin, fix.Point) > c.cfg.RerouteDistanceMeters {
		c.startRoute(ctx)
	}
}

func (e LocationFailed) apply(_ context.Context, c *Controller) {
	msg := "location unavailable"
	switch {
	case errors.Is(e.Err, location.ErrPermissionDenied):
		msg = "Location permission is required to find rides. Grant access and retry."
	case errors.Is(e.Err, location.ErrServicesDisabled):
		msg = "Location services are turned off. Enable them and retry."
	case errors.Is(e.Err, location.ErrAcquisitionTimeout):
		msg = "Could not get your position in time. Move to open sky and retry."
	case e.Err != nil:
		msg = e.Err.Error()
	}
	c.view.LocationError = msg
}

func (e DestinationSelected) apply(ctx context.Context, c *Controller) {
	dest := e.Point
	c.view.Destination = &dest
	c.view.ManualZoom = false
	if c.view.Fix != nil {
		c.view.Region = CoveringRegion(c.view.Fix.Point, dest)
	} else {
		c.view.Region = TightRegion(dest)
	}
	c.startRoute(ctx)
}

func (DestinationCleared) apply(_ context.Context, c *Controller) {
	c.cancelRoute()
	c.gen++
	c.routeOrigin = nil
	c.loading = false
	c.view.Destination = nil
	c.path = routing.Empty()
	c.view.ManualZoom = false
	if c.view.Fix != nil {
		c.view.Region = TightRegion(c.view.Fix.Point)
	}
}

func (ZoomIn) apply(_ context.Context, c *Controller) {
	c.view.Region = c.view.Region.Zoom(0.5)
	c.view.ManualZoom = true
}

func (ZoomOut) apply(_ context.Context, c *Controller) {
	c.view.Region = c.view.Region.Zoom(2)
	c.view.ManualZoom = true
}

func (e routeResolved) apply(ctx context.Context, c *Controller) {
	if e.gen != c.gen {
		staleRoutes.Inc()
		c.logger.Debug("discarded stale route", zap.Uint64("gen", e.gen), zap.Uint64("current", c.gen))
		return
	}
	c.cancelRoute()
	c.loading = false
	c.path = e.path
	status := statusOf(false, c.view.Destination != nil, e.path)
	routeResolutions.WithLabelValues(string(status)).Inc()

	payload := RouteJournal{Method: e.path.Method, Points: len(e.path.Points)}
	if c.routeOrigin != nil {
		payload.Origin = *c.routeOrigin
	}
	if c.view.Destination != nil {
		payload.Destination = *c.view.Destination
	}
	if e.path.Err != nil {
		payload.Error = e.path.Err.Error()
	}
	c.record(ctx, JournalRouteResolved, payload)
}

func (e realtimeEvent) apply(ctx context.Context, c *Controller) {
	switch evt := e.evt.(type) {
	case realtime.DriversEvent:
		c.drivers = append([]realtime.Driver(nil), evt.Drivers...)
		c.view.Drivers = annotate(c.drivers, c.view.Fix, c.cfg.AverageSpeedKmh)
	case realtime.AcceptedEvent:
		next, err := ride.Accept(c.ride, evt.DriverID)
		if err != nil {
			c.logger.Warn("unexpected ride acceptance", zap.String("driver_id", evt.DriverID), zap.Error(err))
			return
		}
		c.ride = next
		c.record(ctx, JournalRideAccepted, RideJournal{DriverID: evt.DriverID})
	case realtime.DeclinedEvent:
		next, err := ride.Decline(c.ride, evt.DriverID)
		if err != nil {
			c.logger.Debug("ignored ride decline", zap.String("driver_id", evt.DriverID), zap.Error(err))
			return
		}
		if next.Phase() == c.ride.Phase() {
			return
		}
		c.ride = next
		c.record(ctx, JournalRideDeclined, RideJournal{DriverID: evt.DriverID})
	case realtime.StatusEvent:
		c.view.Connection = evt.State
		switch {
		case evt.State == realtime.StateConnected:
			c.view.Offline = false
		case evt.Terminal:
			c.view.Offline = true
			c.record(ctx, JournalChannelDisconnected, struct{}{})
		}
	}
}

func (e command) apply(ctx context.Context, _ *Controller) {
	e.reply <- e.fn(ctx)
}
