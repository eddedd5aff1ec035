package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/ikramby/carburon/internal/geo"
)

// State is the connection state of the channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var (
	ErrChannelDisconnected = errors.New("realtime channel disconnected")
	ErrNotReady            = errors.New("realtime channel not ready")
	ErrDuplicateRequest    = errors.New("ride already requested from this driver")
)

// Wire event names.
const (
	EventRegisterPassenger = "register-passenger"
	EventLocationUpdate    = "passenger-location-update"
	EventRequestRide       = "request-ride"
	EventNearbyDrivers     = "nearby-drivers"
	EventRideAccepted      = "ride-request-accepted"
	EventRideDeclined      = "ride-request-declined"
)

// Envelope frames every websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Driver is a nearby driver marker.
type Driver struct {
	ID        string    `json:"id"`
	Point     geo.Point `json:"point"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is delivered to the channel handler.
type Event interface{ isEvent() }

// DriversEvent replaces the whole nearby driver snapshot.
type DriversEvent struct {
	Drivers    []Driver
	ReceivedAt time.Time
}

type AcceptedEvent struct{ DriverID string }

type DeclinedEvent struct{ DriverID string }

// StatusEvent reports a connection state change. Terminal is set once the
// reconnect budget is exhausted.
type StatusEvent struct {
	State    State
	Terminal bool
}

func (DriversEvent) isEvent()  {}
func (AcceptedEvent) isEvent() {}
func (DeclinedEvent) isEvent() {}
func (StatusEvent) isEvent()   {}

// Handler consumes channel events. It runs on the read loop and must not block.
type Handler func(Event)

// RideRequest is the outbound request payload minus the rider id, which the
// channel fills from the session.
type RideRequest struct {
	DriverID    string
	Pickup      geo.Point
	Destination *geo.Point
}

// wireID accepts ids sent either as JSON strings or numbers.
type wireID string

func (w *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*w = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*w = wireID(n.String())
	return nil
}

type wirePoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type wireDriver struct {
	ID  wireID  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type wireAccepted struct {
	DriverID wireID `json:"driverId"`
}

type locationUpdate struct {
	PassengerID string   `json:"passengerId"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Accuracy    *float64 `json:"accuracy"`
	Timestamp   int64    `json:"timestamp"`
}

type rideRequest struct {
	PassengerID    string    `json:"passengerId"`
	DriverID       string    `json:"driverId"`
	PickupLocation wirePoint `json:"pickupLocation"`
	Destination    wirePoint `json:"destination"`
}
