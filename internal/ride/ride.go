// Package ride holds the rider-side ride request lifecycle.
package ride

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid ride transition")
	ErrMissingDriver     = errors.New("ride transition requires a driver id")
)

// Phase names a ride state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRequested Phase = "requested"
	PhaseAccepted  Phase = "accepted"
	PhaseDeclined  Phase = "declined"
)

// State is one of Idle, Requested, Accepted or Declined. Driver ids are only
// set by the transition functions below.
type State interface {
	Phase() Phase
	isState()
}

type Idle struct{}

type Requested struct{ driverID string }

type Accepted struct{ driverID string }

type Declined struct{ driverID string }

func (Idle) Phase() Phase      { return PhaseIdle }
func (Requested) Phase() Phase { return PhaseRequested }
func (Accepted) Phase() Phase  { return PhaseAccepted }
func (Declined) Phase() Phase  { return PhaseDeclined }

func (Idle) isState()      {}
func (Requested) isState() {}
func (Accepted) isState()  {}
func (Declined) isState()  {}

func (r Requested) DriverID() string { return r.driverID }
func (a Accepted) DriverID() string  { return a.driverID }
func (d Declined) DriverID() string  { return d.driverID }

// DriverID returns the driver attached to s, if any.
func DriverID(s State) (string, bool) {
	switch v := s.(type) {
	case Requested:
		return v.driverID, true
	case Accepted:
		return v.driverID, true
	case Declined:
		return v.driverID, true
	default:
		return "", false
	}
}

// Request starts a request to driverID. A request can be made from idle, or
// again after a decline or acceptance to pick a new driver.
func Request(s State, driverID string) (State, error) {
	if driverID == "" {
		return s, ErrMissingDriver
	}
	if cur, ok := s.(Requested); ok {
		return s, fmt.Errorf("%w: request to %s already pending", ErrInvalidTransition, cur.driverID)
	}
	return Requested{driverID: driverID}, nil
}

// Accept records the driver's acceptance of a pending request. An acceptance
// that arrives after a decline clears the decline. The accepting driver wins
// even if it differs from the requested one.
func Accept(s State, driverID string) (State, error) {
	if driverID == "" {
		return s, ErrMissingDriver
	}
	switch s.(type) {
	case Requested, Declined:
		return Accepted{driverID: driverID}, nil
	default:
		return s, fmt.Errorf("%w: accept from %s", ErrInvalidTransition, s.Phase())
	}
}

// Decline records a refusal. A decline from a driver other than the one
// currently requested is ignored and s is returned unchanged.
func Decline(s State, driverID string) (State, error) {
	if driverID == "" {
		return s, ErrMissingDriver
	}
	cur, ok := s.(Requested)
	if !ok {
		return s, fmt.Errorf("%w: decline from %s", ErrInvalidTransition, s.Phase())
	}
	if cur.driverID != driverID {
		return s, nil
	}
	return Declined{driverID: driverID}, nil
}

// Reset returns to idle.
func Reset(State) State { return Idle{} }
