// Package realtime maintains the rider's connection to the matching server.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
	"github.com/ikramby/carburon/internal/location"
	"github.com/ikramby/carburon/internal/session"
)

// Conn is the subset of *websocket.Conn used by the channel.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a new connection to the matching server.
type DialFunc func(ctx context.Context) (Conn, error)

// WebsocketDialer dials url with gorilla/websocket.
func WebsocketDialer(url string, header http.Header, handshakeTimeout time.Duration) DialFunc {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Config tunes reconnection and write behaviour.
type Config struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.RequestTTL <= 0 {
		c.RequestTTL = 30 * time.Second
	}
	return c
}

// Channel owns the single connection to the matching server.
type Channel struct {
	dial   DialFunc
	sess   session.Session
	guard  RequestGuard
	logger *zap.Logger
	cfg    Config

	mu    sync.RWMutex
	state State
	conn  Conn

	writeMu sync.Mutex
}

// NewChannel constructs a channel. guard may be nil.
func NewChannel(dial DialFunc, sess session.Session, guard RequestGuard, logger *zap.Logger, cfg Config) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = NewMemoryRequestGuard()
	}
	c := &Channel{
		dial:   dial,
		sess:   sess,
		guard:  guard,
		logger: logger.Named("realtime").With(zap.String("passenger_id", sess.PassengerID())),
		cfg:    cfg.withDefaults(),
		state:  StateDisconnected,
	}
	c.recordState(StateDisconnected)
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run connects and keeps the connection alive until ctx is done or the
// reconnect budget is exhausted, in which case ErrChannelDisconnected is
// returned. Inbound events are delivered to handler from this goroutine.
func (c *Channel) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		handler = func(Event) {}
	}
	failures := 0
	next := StateConnecting
	for {
		c.setState(next, false, handler)
		conn, err := c.dialOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected, false, handler)
				return ctx.Err()
			}
			c.logger.Warn("dial failed", zap.Int("failures", failures+1), zap.Error(err))
			if failures >= c.cfg.ReconnectAttempts {
				c.setState(StateDisconnected, true, handler)
				return fmt.Errorf("%w: %d reconnect attempts exhausted", ErrChannelDisconnected, c.cfg.ReconnectAttempts)
			}
			failures++
			next = StateReconnecting
			if !c.wait(ctx) {
				c.setState(StateDisconnected, false, handler)
				return ctx.Err()
			}
			reconnectAttempts.Inc()
			continue
		}

		failures = 0
		c.attach(conn)
		c.setState(StateConnected, false, handler)
		if err := c.send(EventRegisterPassenger, c.sess.PassengerID()); err != nil {
			c.logger.Warn("register passenger failed", zap.Error(err))
		}

		err = c.readLoop(ctx, conn, handler)
		c.detach(conn)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, false, handler)
			return ctx.Err()
		}
		c.logger.Info("connection lost", zap.Error(err))
		next = StateReconnecting
		if !c.wait(ctx) {
			c.setState(StateDisconnected, false, handler)
			return ctx.Err()
		}
		reconnectAttempts.Inc()
	}
}

func (c *Channel) dialOnce(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	return c.dial(dialCtx)
}

func (c *Channel) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Channel) attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Channel) setState(s State, terminal bool, handler Handler) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev == s && !terminal {
		return
	}
	c.recordState(s)
	c.logger.Debug("state changed", zap.String("from", string(prev)), zap.String("to", string(s)))
	handler(StatusEvent{State: s, Terminal: terminal})
}

func (c *Channel) recordState(s State) {
	for _, st := range []State{StateDisconnected, StateConnecting, StateConnected, StateReconnecting} {
		v := 0.0
		if st == s {
			v = 1
		}
		connectionState.WithLabelValues(string(st)).Set(v)
	}
}

func (c *Channel) readLoop(ctx context.Context, conn Conn, handler Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		evt, err := c.decode(env)
		if err != nil {
			inboundEvents.WithLabelValues(env.Event, "malformed").Inc()
			c.logger.Debug("dropped malformed event", zap.String("event", env.Event), zap.Error(err))
			continue
		}
		if evt == nil {
			inboundEvents.WithLabelValues("unknown", "ignored").Inc()
			continue
		}
		inboundEvents.WithLabelValues(env.Event, "ok").Inc()
		handler(evt)
	}
}

func (c *Channel) decode(env Envelope) (Event, error) {
	switch env.Event {
	case EventNearbyDrivers:
		var raw []wireDriver
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		drivers := make([]Driver, 0, len(raw))
		for _, d := range raw {
			p := geo.Point{Lat: d.Lat, Lng: d.Lng}
			if d.ID == "" || !p.Valid() {
				continue
			}
			drivers = append(drivers, Driver{ID: string(d.ID), Point: p, UpdatedAt: now})
		}
		return DriversEvent{Drivers: drivers, ReceivedAt: now}, nil
	case EventRideAccepted:
		var raw wireAccepted
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, err
		}
		if raw.DriverID == "" {
			return nil, errors.New("accepted event without driver id")
		}
		return AcceptedEvent{DriverID: string(raw.DriverID)}, nil
	case EventRideDeclined:
		var id wireID
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return nil, err
		}
		if id == "" {
			return nil, errors.New("declined event without driver id")
		}
		// a declined driver may be asked again
		relCtx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
		defer cancel()
		if err := c.guard.Release(relCtx, c.sess.PassengerID(), string(id)); err != nil {
			c.logger.Debug("release request guard", zap.Error(err))
		}
		return DeclinedEvent{DriverID: string(id)}, nil
	default:
		c.logger.Debug("ignored event", zap.String("event", env.Event))
		return nil, nil
	}
}

func (c *Channel) send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		outboundMessages.WithLabelValues(event, "not_ready").Inc()
		return ErrNotReady
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		outboundMessages.WithLabelValues(event, "error").Inc()
		return fmt.Errorf("write %s: %w", event, err)
	}
	outboundMessages.WithLabelValues(event, "ok").Inc()
	return nil
}

// PublishPosition broadcasts a fix. It fails with ErrNotReady while
// disconnected; nothing is queued.
func (c *Channel) PublishPosition(_ context.Context, fix location.Fix) error {
	if c.State() != StateConnected {
		return ErrNotReady
	}
	return c.send(EventLocationUpdate, locationUpdate{
		PassengerID: c.sess.PassengerID(),
		Lat:         fix.Point.Lat,
		Lng:         fix.Point.Lng,
		Accuracy:    fix.Accuracy,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// RequestRide sends a ride request. It fails with ErrNotReady, without
// touching the transport, when the channel is not connected or no
// destination is set.
func (c *Channel) RequestRide(ctx context.Context, req RideRequest) error {
	if c.State() != StateConnected {
		return fmt.Errorf("%w: channel %s", ErrNotReady, c.State())
	}
	if req.Destination == nil {
		return fmt.Errorf("%w: no destination selected", ErrNotReady)
	}
	if req.DriverID == "" {
		return fmt.Errorf("%w: no driver selected", ErrNotReady)
	}

	ok, err := c.guard.Acquire(ctx, c.sess.PassengerID(), req.DriverID, c.cfg.RequestTTL)
	if err != nil {
		c.logger.Warn("request guard unavailable", zap.Error(err))
	} else if !ok {
		return ErrDuplicateRequest
	}

	err = c.send(EventRequestRide, rideRequest{
		PassengerID:    c.sess.PassengerID(),
		DriverID:       req.DriverID,
		PickupLocation: wirePoint{Latitude: req.Pickup.Lat, Longitude: req.Pickup.Lng},
		Destination:    wirePoint{Latitude: req.Destination.Lat, Longitude: req.Destination.Lng},
	})
	if err != nil && ok {
		if relErr := c.guard.Release(ctx, c.sess.PassengerID(), req.DriverID); relErr != nil {
			c.logger.Debug("release request guard", zap.Error(relErr))
		}
	}
	return err
}
