// Package mapview reconciles rider position, route, drivers and ride state
// into the single view the UI renders.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
	"github.com/ikramby/carburon/internal/location"
	"github.com/ikramby/carburon/internal/realtime"
	"github.com/ikramby/carburon/internal/ride"
	"github.com/ikramby/carburon/internal/routing"
	"github.com/ikramby/carburon/internal/session"
)

// ErrStopped is returned by commands issued after Run has exited.
var ErrStopped = errors.New("map view controller stopped")

// RouteResolver is satisfied by *routing.Resolver.
type RouteResolver interface {
	Resolve(ctx context.Context, origin, destination geo.Point) routing.Path
}

// RideSender is satisfied by *realtime.Channel.
type RideSender interface {
	RequestRide(ctx context.Context, req realtime.RideRequest) error
}

// Journal records session events. Failures are logged, never surfaced.
type Journal interface {
	Record(ctx context.Context, eventType string, payload interface{}) error
}

// Journal event types.
const (
	JournalRouteResolved       = "RouteResolved"
	JournalRideRequested       = "RideRequested"
	JournalRideAccepted        = "RideAccepted"
	JournalRideDeclined        = "RideDeclined"
	JournalChannelDisconnected = "ChannelDisconnected"
)

type RouteJournal struct {
	Method      routing.Method `json:"method"`
	Points      int            `json:"points"`
	Origin      geo.Point      `json:"origin"`
	Destination geo.Point      `json:"destination"`
	Error       string         `json:"error,omitempty"`
}

type RideJournal struct {
	DriverID    string     `json:"driver_id"`
	Pickup      *geo.Point `json:"pickup,omitempty"`
	Destination *geo.Point `json:"destination,omitempty"`
}

// Config tunes the controller.
type Config struct {
	RerouteDistanceMeters float64
	AverageSpeedKmh       float64
	InboxSize             int
	JournalTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.RerouteDistanceMeters <= 0 {
		c.RerouteDistanceMeters = 50
	}
	if c.AverageSpeedKmh <= 0 {
		c.AverageSpeedKmh = geo.DefaultAverageSpeedKmh
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 64
	}
	if c.JournalTimeout <= 0 {
		c.JournalTimeout = 2 * time.Second
	}
	return c
}

// Controller owns the view state. All writes happen on the Run goroutine;
// readers get copies through Snapshot.
type Controller struct {
	resolver RouteResolver
	rides    RideSender
	journal  Journal
	logger   *zap.Logger
	cfg      Config

	inbox   chan Event
	stopped chan struct{}
	once    sync.Once

	// loop state
	view        Snapshot
	path        routing.Path
	drivers     []realtime.Driver
	ride        ride.State
	loading     bool
	gen         uint64
	routeOrigin *geo.Point
	cancel      context.CancelFunc

	mu        sync.RWMutex
	published Snapshot
}

// NewController constructs a controller. journal may be nil.
func NewController(resolver RouteResolver, rides RideSender, journal Journal, sess session.Session, logger *zap.Logger, cfg Config) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	c := &Controller{
		resolver: resolver,
		rides:    rides,
		journal:  journal,
		logger:   logger.Named("mapview").With(zap.String("passenger_id", sess.PassengerID())),
		cfg:      cfg,
		inbox:    make(chan Event, cfg.InboxSize),
		stopped:  make(chan struct{}),
		path:     routing.Empty(),
		ride:     ride.Idle{},
	}
	c.view = Snapshot{
		Region:     DefaultRegion,
		Quality:    location.QualityUnknown,
		Connection: realtime.StateDisconnected,
	}
	c.publish()
	return c
}

// Run consumes events until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	defer c.once.Do(func() { close(c.stopped) })
	for {
		select {
		case <-ctx.Done():
			c.cancelRoute()
			return ctx.Err()
		case evt := <-c.inbox:
			inboxDepth.Set(float64(len(c.inbox)))
			evt.apply(ctx, c)
			c.publish()
		}
	}
}

// Post queues an event. It returns false once the controller has stopped.
func (c *Controller) Post(evt Event) bool {
	select {
	case c.inbox <- evt:
		return true
	case <-c.stopped:
		return false
	}
}

// OnFix adapts the tracker callback.
func (c *Controller) OnFix(fix location.Fix) { c.Post(FixReceived{Fix: fix}) }

// OnRealtime adapts the realtime channel handler.
func (c *Controller) OnRealtime(evt realtime.Event) { c.Post(realtimeEvent{evt: evt}) }

// Snapshot returns the latest published view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published.clone()
}

// RequestRide asks driverID for a ride from the current fix to the selected
// destination. It returns realtime.ErrNotReady when either is missing or the
// channel is down.
func (c *Controller) RequestRide(ctx context.Context, driverID string) error {
	return c.do(ctx, func(ctx context.Context) error {
		if c.view.Destination == nil {
			return fmt.Errorf("%w: no destination selected", realtime.ErrNotReady)
		}
		if c.view.Fix == nil {
			return fmt.Errorf("%w: rider position unknown", realtime.ErrNotReady)
		}
		next, err := ride.Request(c.ride, driverID)
		if err != nil {
			return err
		}
		pickup, dest := c.view.Fix.Point, *c.view.Destination
		if err := c.rides.RequestRide(ctx, realtime.RideRequest{DriverID: driverID, Pickup: pickup, Destination: &dest}); err != nil {
			return err
		}
		c.ride = next
		c.record(ctx, JournalRideRequested, RideJournal{DriverID: driverID, Pickup: &pickup, Destination: &dest})
		return nil
	})
}

// do runs fn on the loop goroutine and waits for its result.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- command{fn: fn, reply: reply}:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) startRoute(ctx context.Context) {
	if c.view.Destination == nil {
		return
	}
	c.cancelRoute()
	c.gen++
	if c.view.Fix == nil {
		// resolution starts with the first fix
		c.routeOrigin = nil
		c.loading = true
		return
	}
	gen := c.gen
	origin, dest := c.view.Fix.Point, *c.view.Destination
	c.routeOrigin = &origin
	c.loading = true

	routeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		path := c.resolver.Resolve(routeCtx, origin, dest)
		c.Post(routeResolved{gen: gen, path: path})
	}()
}

func (c *Controller) cancelRoute() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) record(ctx context.Context, eventType string, payload interface{}) {
	if c.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(ctx, c.cfg.JournalTimeout)
	defer cancel()
	if err := c.journal.Record(jctx, eventType, payload); err != nil {
		c.logger.Warn("journal write failed", zap.String("event", eventType), zap.Error(err))
	}
}

// publish copies loop state into the reader snapshot.
func (c *Controller) publish() {
	c.view.Route = RouteView{Points: c.path.Points, Method: c.path.Method, Steps: c.path.Steps}
	if c.path.Err != nil {
		c.view.Route.Error = c.path.Err.Error()
	}
	c.view.Status = statusOf(c.loading, c.view.Destination != nil, c.path)
	if id, ok := ride.DriverID(c.ride); ok {
		c.view.Ride = RideView{Phase: c.ride.Phase(), DriverID: id}
	} else {
		c.view.Ride = RideView{Phase: c.ride.Phase()}
	}
	c.view.UpdatedAt = time.Now().UTC()

	next := c.view.clone()
	c.mu.Lock()
	c.published = next
	c.mu.Unlock()
}
