package session

import "errors"

// ErrNoPassenger is returned when a session is built without a passenger id.
var ErrNoPassenger = errors.New("session requires a passenger id")

// Passenger is the signed-in rider profile as returned by the backend.
type Passenger struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Agency   string `json:"agency"`
}

// Session is built once after sign-in and handed to every component that
// needs the rider identity.
type Session struct {
	Passenger Passenger
	Token     string
}

// New validates and constructs a session.
func New(passenger Passenger, token string) (Session, error) {
	if passenger.ID == "" {
		return Session{}, ErrNoPassenger
	}
	return Session{Passenger: passenger, Token: token}, nil
}

// PassengerID is a shorthand used by log fields and wire payloads.
func (s Session) PassengerID() string {
	return s.Passenger.ID
}
